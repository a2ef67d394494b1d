// Package flow defines the stage graph for a processing run and the producer
// that expands a submission into queued jobs.
package flow

import (
	"fmt"

	"github.com/google/uuid"

	"videoforge/internal/queue"
)

// Stage names. These are stored verbatim in job rows and event payloads;
// handlers are resolved by name, never by position.
const (
	StageRoot     = "process_video"
	StageSetup    = "setup"
	StageBroll    = "generate_broll"
	StageCaptions = "generate_captions"
	StageFinalize = "finalize"
)

// Node is one stage in the graph with its declared upstream edges.
type Node struct {
	Stage     string
	DependsOn []string
}

// Graph is an explicit DAG of stage nodes. The default pipeline is a linear
// chain, but the structure supports wider graphs without scheduler changes.
type Graph struct {
	nodes []Node
}

// DefaultGraph returns the standard pipeline:
// setup -> generate_broll -> generate_captions -> finalize.
// Stages that have nothing to do for a given submission complete as no-ops
// rather than being dropped from the graph, so every run has the same shape.
func DefaultGraph() *Graph {
	return &Graph{nodes: []Node{
		{Stage: StageSetup},
		{Stage: StageBroll, DependsOn: []string{StageSetup}},
		{Stage: StageCaptions, DependsOn: []string{StageBroll}},
		{Stage: StageFinalize, DependsOn: []string{StageCaptions}},
	}}
}

// Validate checks that every declared edge references a defined node and
// that the graph is acyclic.
func (g *Graph) Validate() error {
	index := make(map[string]Node, len(g.nodes))
	for _, n := range g.nodes {
		if n.Stage == "" {
			return fmt.Errorf("graph contains unnamed node")
		}
		if _, dup := index[n.Stage]; dup {
			return fmt.Errorf("duplicate stage %q", n.Stage)
		}
		index[n.Stage] = n
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.nodes))
	var visit func(stage string) error
	visit = func(stage string) error {
		switch state[stage] {
		case visiting:
			return fmt.Errorf("cycle through stage %q", stage)
		case done:
			return nil
		}
		state[stage] = visiting
		node, ok := index[stage]
		if !ok {
			return fmt.Errorf("edge references undefined stage %q", stage)
		}
		for _, dep := range node.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[stage] = done
		return nil
	}
	for _, n := range g.nodes {
		if err := visit(n.Stage); err != nil {
			return err
		}
	}
	return nil
}

// Stages returns the node stage names in declaration order.
func (g *Graph) Stages() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Stage
	}
	return out
}

// TerminalStage returns the stage no other node depends on. The run is
// complete when this stage completes.
func (g *Graph) TerminalStage() string {
	depended := make(map[string]bool)
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			depended[dep] = true
		}
	}
	for i := len(g.nodes) - 1; i >= 0; i-- {
		if !depended[g.nodes[i].Stage] {
			return g.nodes[i].Stage
		}
	}
	return ""
}

// Jobs materializes the graph into queue jobs for a submission, returning
// the root job first. Stage-name edges become job-ID edges.
func (g *Graph) Jobs(submissionID int64) ([]*queue.Job, string) {
	rootID := uuid.NewString()
	jobs := []*queue.Job{{
		ID:           rootID,
		RootID:       rootID,
		SubmissionID: submissionID,
		Stage:        StageRoot,
		Status:       queue.StatusProcessing,
	}}

	idByStage := make(map[string]string, len(g.nodes))
	for _, n := range g.nodes {
		idByStage[n.Stage] = uuid.NewString()
	}
	for _, n := range g.nodes {
		deps := make([]string, 0, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			deps = append(deps, idByStage[dep])
		}
		jobs = append(jobs, &queue.Job{
			ID:           idByStage[n.Stage],
			RootID:       rootID,
			SubmissionID: submissionID,
			Stage:        n.Stage,
			DependsOn:    deps,
		})
	}
	return jobs, rootID
}
