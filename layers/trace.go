package layers

import (
	"strings"

	"github.com/quic-ykota/aimet/tensor"
)

// TraceEvent records one leaf-module invocation during a traced forward pass.
type TraceEvent struct {
	Path   string
	Module Module
	Input  *tensor.Tensor
	Output *tensor.Tensor
}

// Recorder accumulates trace events. The zero value is ready to use.
type Recorder struct {
	prefix []string
	events []TraceEvent
}

// Record appends an event for m under the recorder's current scope.
func (r *Recorder) Record(m Module, in, out *tensor.Tensor) {
	if r == nil {
		return
	}
	r.events = append(r.events, TraceEvent{
		Path:   strings.Join(r.prefix, "."),
		Module: m,
		Input:  in,
		Output: out,
	})
}

func (r *Recorder) enter(name string) {
	if r != nil {
		r.prefix = append(r.prefix, name)
	}
}

func (r *Recorder) leave() {
	if r != nil {
		r.prefix = r.prefix[:len(r.prefix)-1]
	}
}

// Events returns the recorded events in invocation order.
func (r *Recorder) Events() []TraceEvent {
	return r.events
}

// TracedForwarder is implemented by containers that can report which children
// they actually invoke. Children skipped by a container's forward never
// appear in the trace.
type TracedForwarder interface {
	ForwardWithTrace(x *tensor.Tensor, rec *Recorder) (*tensor.Tensor, error)
}

// forwardChild runs one named child, recursing into traced containers and
// recording leaf invocations.
func forwardChild(child NamedModule, x *tensor.Tensor, rec *Recorder) (*tensor.Tensor, error) {
	rec.enter(child.Name)
	defer rec.leave()

	if tf, ok := child.Module.(TracedForwarder); ok {
		return tf.ForwardWithTrace(x, rec)
	}
	out, err := child.Module.Forward(x)
	if err != nil {
		return nil, err
	}
	rec.Record(child.Module, x, out)
	return out, nil
}

// ForwardChild exposes forwardChild for containers implemented outside this
// package.
func ForwardChild(child NamedModule, x *tensor.Tensor, rec *Recorder) (*tensor.Tensor, error) {
	return forwardChild(child, x, rec)
}

// Trace runs root on x and returns the leaf invocation events in execution
// order together with the model output.
func Trace(root Module, x *tensor.Tensor) ([]TraceEvent, *tensor.Tensor, error) {
	rec := &Recorder{}
	var out *tensor.Tensor
	var err error
	if tf, ok := root.(TracedForwarder); ok {
		out, err = tf.ForwardWithTrace(x, rec)
	} else {
		out, err = root.Forward(x)
		if err == nil {
			rec.Record(root, x, out)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return rec.events, out, nil
}

// OrderedWeightLayers extracts the weight-bearing layers from a trace, in
// execution order.
func OrderedWeightLayers(events []TraceEvent) []NamedModule {
	var out []NamedModule
	for _, ev := range events {
		if wl, ok := ev.Module.(WeightLayer); ok {
			out = append(out, NamedModule{Name: ev.Path, Module: wl})
		}
	}
	return out
}

// ActivationPairing maps each weight-bearing layer path to the activation
// that immediately consumes its output, when there is one.
func ActivationPairing(events []TraceEvent) map[string]Activation {
	pairs := make(map[string]Activation)
	for i, ev := range events {
		if _, ok := ev.Module.(WeightLayer); !ok {
			continue
		}
		if i+1 >= len(events) {
			continue
		}
		next := events[i+1]
		act, ok := next.Module.(Activation)
		if ok && next.Input == ev.Output {
			pairs[ev.Path] = act
		}
	}
	return pairs
}
