package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modelcore/internal/adapter"
	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/logging"
	"modelcore/internal/metrics"
	"modelcore/pkg/types"
)

// call is one admitted generation.
type call struct {
	id      string
	inst    *Instance
	gp      *engine.GenerateParams
	release func()
	start   time.Time
}

// admit loads the deployment, adapts req and takes a generation slot.
// Adaptation runs first so malformed requests never queue.
func (m *Manager) admit(ctx context.Context, req *types.ModelRequest) (*call, error) {
	if req == nil {
		return nil, errdefs.Protocolf("nil request")
	}
	inst, err := m.EnsureInstance(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	r := *req
	r.Model = inst.Deploy.Base().RealModelName()
	gp, _, err := adapter.ModelAdaptation(ctx, inst.Adapter, inst.Deploy, inst.Tokenizer, &r)
	if err != nil {
		return nil, err
	}
	release, err := m.beginGeneration(ctx, inst)
	if err != nil {
		return nil, err
	}
	metrics.GenerationStarted(inst.Provider(), inst.Name)
	c := &call{id: uuid.NewString(), inst: inst, gp: gp, release: release, start: time.Now()}
	l := logging.For("manager")
	l.Debug().Str("request_id", c.id).Str("model", inst.Name).Int("max_new_tokens", gp.MaxNewTokens).
		Int("stop", len(gp.Stop)).Msg("generation admitted")
	return c, nil
}

// finish releases the slot and records the final output.
func (m *Manager) finish(c *call, last types.ModelOutput, err error) {
	c.release()
	provider, name := c.inst.Provider(), c.inst.Name
	l := logging.For("manager")
	switch {
	case err != nil:
		metrics.GenerationFailed(provider, name, metrics.StageStart)
		l.Warn().Err(err).Str("request_id", c.id).Str("model", name).Msg("generation failed")
		return
	case !last.Success():
		metrics.GenerationFailed(provider, name, metrics.StageStream)
		l.Warn().Str("request_id", c.id).Str("model", name).Str("text", last.Text).Msg("generation ended with error output")
	}
	tokens := 0
	if last.Usage != nil {
		tokens = last.Usage.CompletionTokens
	}
	metrics.GenerationDone(provider, name, time.Since(c.start), tokens)
	l.Debug().Str("request_id", c.id).Str("model", name).Str("finish_reason", last.FinishReason).
		Dur("dur", time.Since(c.start)).Msg("generation done")
}

// GenerateStream runs req on its deployment. Every output carries the
// accumulated text; the channel is closed when generation ends. A returned
// error means nothing was generated. Cancel ctx to stop early.
func (m *Manager) GenerateStream(ctx context.Context, req *types.ModelRequest) (<-chan types.ModelOutput, error) {
	c, err := m.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	src, err := c.inst.stream(ctx, c.gp)
	if err != nil {
		m.finish(c, types.ModelOutput{}, err)
		return nil, err
	}
	out := make(chan types.ModelOutput)
	go func() {
		defer close(out)
		var last types.ModelOutput
		for o := range src {
			last = o
			if !engine.Emit(ctx, out, o) {
				for range src {
				}
				break
			}
		}
		m.finish(c, last, nil)
	}()
	return out, nil
}

// Generate runs req to completion and returns the final output. Engines with
// a native non-streaming call use it.
func (m *Manager) Generate(ctx context.Context, req *types.ModelRequest) (types.ModelOutput, error) {
	c, err := m.admit(ctx, req)
	if err != nil {
		return types.ModelOutput{}, err
	}
	var last types.ModelOutput
	if c.inst.generate != nil {
		last, err = c.inst.generate(ctx, c.gp)
	} else {
		var src <-chan types.ModelOutput
		if src, err = c.inst.stream(ctx, c.gp); err == nil {
			last = engine.Collect(src)
		}
	}
	m.finish(c, last, err)
	return last, err
}
