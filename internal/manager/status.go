package manager

import (
	"sort"
	"time"

	"modelcore/pkg/types"
)

// Status builds the /status report.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:          string(m.stateLocked()),
		LastError:      m.lastErr,
		UptimeSeconds:  int64(now.Sub(m.startTime) / time.Second),
		ServerTimeUnix: now.Unix(),
		LoadsTotal:     m.loadsTotal,
		Instances:      make([]types.InstanceStatus, 0, len(m.instances)+len(m.embedders)),
	}
	for _, inst := range m.instances {
		st := types.InstanceStatus{
			Name:        inst.Name,
			State:       string(inst.State),
			LastUsed:    inst.LastUsed.Unix(),
			QueueLen:    len(inst.queueCh),
			Inflight:    len(inst.genCh),
			Concurrency: cap(inst.genCh),
			Error:       inst.Err,
		}
		if inst.Deploy != nil {
			st.Provider = inst.Provider()
		}
		if inst.Adapter != nil {
			st.Adapter = inst.Adapter.Name()
		}
		resp.Instances = append(resp.Instances, st)
	}
	for _, e := range m.embedders {
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			Name:     e.name,
			Provider: e.deploy.Base().Provider,
			Adapter:  e.adapter.Name(),
			State:    string(StateReady),
		})
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].Name < resp.Instances[j].Name })
	return resp
}

// stateLocked summarizes the worker: closed workers report draining, any
// loading instance makes the worker loading, otherwise it is ready.
func (m *Manager) stateLocked() State {
	if m.closed {
		return StateDraining
	}
	for _, inst := range m.instances {
		if inst.State == StateLoading {
			return StateLoading
		}
	}
	return StateReady
}

// Deployments lists the configured models in configuration order, with the
// adapter of loaded ones.
func (m *Manager) Deployments() []types.Deployment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Deployment, 0, len(m.order))
	for _, name := range m.order {
		b := m.deployments[name].Base()
		d := types.Deployment{Name: name, Provider: b.Provider, Path: b.Path}
		if inst := m.instances[name]; inst != nil && inst.Adapter != nil {
			d.Adapter = inst.Adapter.Name()
		} else if e := m.embedders[name]; e != nil {
			d.Adapter = e.adapter.Name()
		}
		out = append(out, d)
	}
	return out
}

// SupportedModels is the registry catalog for one worker type ("" for all).
func (m *Manager) SupportedModels(workerType string) []types.ModelMetadata {
	return m.registry.SupportedModels(workerType)
}
