package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// batchEvents and paymentEvents convert the domain transition tables
// into looplab/fsm EventDesc format, consolidating transitions with the
// same event+destination into a single EventDesc with multiple source
// states.
var (
	batchEvents   = buildEvents(batchDescs())
	paymentEvents = buildEvents(paymentDescs())
)

type transitionDesc struct {
	event string
	src   string
	dst   string
}

func batchDescs() []transitionDesc {
	out := make([]transitionDesc, 0, len(domain.BatchTransitions))
	for _, t := range domain.BatchTransitions {
		out = append(out, transitionDesc{event: string(t.Event), src: string(t.Src), dst: string(t.Dst)})
	}
	return out
}

func paymentDescs() []transitionDesc {
	out := make([]transitionDesc, 0, len(domain.PaymentTransitions))
	for _, t := range domain.PaymentTransitions {
		out = append(out, transitionDesc{event: string(t.Event), src: string(t.Src), dst: string(t.Dst)})
	}
	return out
}

func buildEvents(descs []transitionDesc) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, t := range descs {
		k := key{event: t.event, dst: t.dst}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], t.src)
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// It creates a short-lived FSM instance per Apply call, initialized
// with the batch's current state. This is necessary because
// looplab/fsm is stateful (it tracks the current state internally).
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// ApplyBatch checks if the given event is valid from the current
// batch_status and returns the destination status. Returns a
// domain.TransitionError if the transition is not allowed.
func (v *Validator) ApplyBatch(ctx context.Context, current domain.BatchStatus, event domain.BatchEvent) (domain.BatchStatus, error) {
	dst, err := apply(ctx, batchEvents, string(current), string(event))
	return domain.BatchStatus(dst), err
}

// ApplyPayment is the payment_status counterpart of ApplyBatch.
func (v *Validator) ApplyPayment(ctx context.Context, current domain.PaymentStatus, event domain.PaymentEvent) (domain.PaymentStatus, error) {
	dst, err := apply(ctx, paymentEvents, string(current), string(event))
	return domain.PaymentStatus(dst), err
}

func apply(ctx context.Context, events []loopfsm.EventDesc, current, event string) (string, error) {
	machine := loopfsm.NewFSM(current, events, nil)

	if err := machine.Event(ctx, event); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &noTransition) {
			return "", &domain.TransitionError{
				Event:   event,
				Current: current,
			}
		}
		return "", err
	}

	return machine.Current(), nil
}
