package models

// Input is the data delivered to one input port from one upstream instance.
type Input struct {
	Port             string         `json:"port"`
	SourceInstanceID string         `json:"source_instance_id"`
	SourcePort       string         `json:"source_port"`
	Data             map[string]any `json:"data"`
}

// ExecutionContext carries everything an executor may read during one attempt.
type ExecutionContext struct {
	RunID          string         `json:"run_id"`
	WorkflowID     string         `json:"workflow_id"`
	NodeID         string         `json:"node_id"`
	InstanceID     string         `json:"instance_id"`
	Iteration      int            `json:"iteration"`
	Attempt        int            `json:"attempt"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
	Inputs         []Input        `json:"inputs,omitempty"`
}

// Main returns the data on the main input port, merged when several sources feed it.
func (c *ExecutionContext) Main() map[string]any {
	return c.Port(DefaultPort)
}

// Port returns the data delivered to a port. When several upstream instances
// feed the same port their maps are merged in binding order.
func (c *ExecutionContext) Port(port string) map[string]any {
	var merged map[string]any

	for _, in := range c.Inputs {
		if in.Port != port {
			continue
		}

		if merged == nil {
			merged = make(map[string]any, len(in.Data))
		}

		for k, v := range in.Data {
			merged[k] = v
		}
	}

	return merged
}

// InputMap returns the inputs keyed by port, in the shape recorded on the node record.
func (c *ExecutionContext) InputMap() map[string]any {
	if len(c.Inputs) == 0 {
		return nil
	}

	out := make(map[string]any)

	for _, in := range c.Inputs {
		if data := c.Port(in.Port); data != nil {
			out[in.Port] = data
		}
	}

	return out
}

// TemplateData returns the data tree exposed to config templates.
func (c *ExecutionContext) TemplateData() map[string]any {
	inputs := make(map[string]any)
	for _, in := range c.Inputs {
		inputs[in.Port] = c.Port(in.Port)
	}

	return map[string]any{
		"input":     c.Main(),
		"inputs":    inputs,
		"trigger":   c.TriggerPayload,
		"iteration": c.Iteration,
		"run": map[string]any{
			"id":          c.RunID,
			"workflow_id": c.WorkflowID,
			"node_id":     c.NodeID,
			"instance_id": c.InstanceID,
			"attempt":     c.Attempt,
		},
	}
}
