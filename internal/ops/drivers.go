package ops

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helmboard/helmboard/internal/fault"
)

// step is one external command within a managed operation.
type step struct {
	label string
	name  string
	args  []string
}

// runSteps executes a sequence of steps, aborting on the first failure.
func (e *Executor) runSteps(op *Operation, steps []step) error {
	for _, st := range steps {
		if op.State().IsTerminal() {
			return fault.New(fault.KindProcess, "operation cancelled before step %s", st.label)
		}
		e.emit(op, "$ "+st.name+" "+strings.Join(st.args, " "), "stdout")
		code, err := e.AttachProcess(op, st.name, st.args...)
		if err != nil {
			return err
		}
		if code != 0 {
			return fault.New(fault.KindProcess, "step %s exited with code %d", st.label, code)
		}
	}
	return nil
}

// runBatch executes independent per-target step sequences. A target's
// failure is logged into the room's output stream and the batch continues;
// the terminal status reports succeeded/attempted counts instead of failing
// the whole operation on a single target.
func (e *Executor) runBatch(op *Operation, targets []string, stepsFor func(target string) []step) {
	succeeded := 0
	for _, target := range targets {
		if op.State().IsTerminal() {
			// Cancelled mid-batch; the cancel path already reported.
			return
		}
		e.emit(op, fmt.Sprintf("=== %s ===", target), "stdout")
		if err := e.runSteps(op, stepsFor(target)); err != nil {
			e.emit(op, fmt.Sprintf("error: %s: %v", target, err), "stderr")
			continue
		}
		succeeded++
	}
	e.finish(op, StateCompleted, fmt.Sprintf("%d of %d succeeded", succeeded, len(targets)))
}

// runSequence executes one step sequence as a single atomic action: any
// step failure fails the whole operation.
func (e *Executor) runSequence(op *Operation, steps []step) {
	if err := e.runSteps(op, steps); err != nil {
		e.finish(op, StateError, err.Error())
		return
	}
	e.finish(op, StateCompleted, "")
}

// image-pull: one docker pull; the process exit decides the outcome.

type imagePullParams struct {
	Image string `json:"image"`
}

func prepareImagePull(e *Executor, params json.RawMessage) (func(op *Operation), error) {
	var p imagePullParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "invalid image-pull params")
	}
	if p.Image == "" {
		return nil, fault.New(fault.KindValidation, "image is required")
	}
	return func(op *Operation) {
		_, _ = e.AttachProcess(op, e.dockerBin, "pull", p.Image)
	}, nil
}

// container-upgrade: per-target pull/stop/remove/recreate batch with
// partial-failure continuation.

type upgradeTarget struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type containerUpgradeParams struct {
	Targets []upgradeTarget `json:"targets"`
}

func prepareContainerUpgrade(e *Executor, params json.RawMessage) (func(op *Operation), error) {
	var p containerUpgradeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "invalid container-upgrade params")
	}
	if len(p.Targets) == 0 {
		return nil, fault.New(fault.KindValidation, "at least one target is required")
	}
	byName := make(map[string]upgradeTarget, len(p.Targets))
	names := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		if t.Name == "" || t.Image == "" {
			return nil, fault.New(fault.KindValidation, "every target needs a name and an image")
		}
		byName[t.Name] = t
		names = append(names, t.Name)
	}

	return func(op *Operation) {
		e.runBatch(op, names, func(name string) []step {
			t := byName[name]
			return []step{
				{label: "pull", name: e.dockerBin, args: []string{"pull", t.Image}},
				{label: "stop", name: e.dockerBin, args: []string{"stop", t.Name}},
				{label: "remove", name: e.dockerBin, args: []string{"rm", t.Name}},
				{label: "recreate", name: e.dockerBin, args: []string{"run", "-d", "--name", t.Name, t.Image}},
			}
		})
	}, nil
}

// compose-deploy / compose-teardown: multi-command sequences over one stack.

type composeParams struct {
	Dir string `json:"dir"`
}

func parseComposeParams(params json.RawMessage) (composeParams, error) {
	var p composeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return p, fault.Wrap(fault.KindValidation, err, "invalid compose params")
	}
	if p.Dir == "" {
		return p, fault.New(fault.KindValidation, "dir is required")
	}
	return p, nil
}

func prepareComposeDeploy(e *Executor, params json.RawMessage) (func(op *Operation), error) {
	p, err := parseComposeParams(params)
	if err != nil {
		return nil, err
	}
	return func(op *Operation) {
		e.runSequence(op, []step{
			{label: "pull", name: e.dockerBin, args: []string{"compose", "--project-directory", p.Dir, "pull"}},
			{label: "up", name: e.dockerBin, args: []string{"compose", "--project-directory", p.Dir, "up", "-d"}},
		})
	}, nil
}

func prepareComposeTeardown(e *Executor, params json.RawMessage) (func(op *Operation), error) {
	p, err := parseComposeParams(params)
	if err != nil {
		return nil, err
	}
	return func(op *Operation) {
		e.runSequence(op, []step{
			{label: "down", name: e.dockerBin, args: []string{"compose", "--project-directory", p.Dir, "down"}},
		})
	}, nil
}
