package workflow

// sampleWorkflow is the lead-routing workflow inserted by --seed.
var sampleWorkflow = Workflow{
	UserID:      "demo",
	Name:        "Lead Routing Workflow",
	Description: "Scores an incoming lead and routes it to sales or nurture",
	IsActive:    true,
	Nodes: []Node{
		{
			ID: "start", Type: "start",
			Position: Position{X: -160, Y: 300},
			Data: NodeData{
				Label: "Start", Description: "Receive lead",
				Config: map[string]any{
					"initializeVariables": map[string]any{"threshold": 50},
				},
			},
		},
		{
			ID: "normalize", Type: "action",
			Position: Position{X: 152, Y: 304},
			Data: NodeData{
				Label: "Normalize Lead", Description: "Copy and clean lead fields",
				Config: map[string]any{
					"actionType": "transform_data",
					"transformations": []any{
						map[string]any{"type": "filter", "condition": "{{email}}"},
						map[string]any{"type": "map", "mapping": map[string]any{"contact": "{{name}} <{{email}}>"}},
						map[string]any{"type": "add", "field": "source", "value": "{{trigger}}"},
					},
				},
			},
		},
		{
			ID: "route", Type: "condition",
			Position: Position{X: 460, Y: 304},
			Data: NodeData{
				Label: "Check Score", Description: "Route hot leads to sales",
				Config: map[string]any{
					"conditions": []any{
						map[string]any{"type": "field_comparison", "field": "score", "operator": "greater_than", "value": "{{variables.threshold}}", "nextPath": "hot"},
						map[string]any{"type": "default", "nextPath": "cold"},
					},
				},
			},
		},
		{
			ID: "assign-sales", Type: "action",
			Position: Position{X: 794, Y: 88},
			Data: NodeData{
				Label: "Assign to Sales",
				Config: map[string]any{"actionType": "set_variable", "name": "queue", "value": "sales"},
			},
		},
		{
			ID: "assign-nurture", Type: "action",
			Position: Position{X: 794, Y: 504},
			Data: NodeData{
				Label: "Assign to Nurture",
				Config: map[string]any{"actionType": "set_variable", "name": "queue", "value": "nurture"},
			},
		},
		{
			ID: "end", Type: "end",
			Position: Position{X: 1096, Y: 302},
			Data: NodeData{
				Label: "Complete",
				Config: map[string]any{
					"finalizeVariables": map[string]any{"queue": "{{variables.queue}}"},
					"cleanup": map[string]any{
						"logSummary": true,
						"notify":     true,
						"channel":    "leads",
						"message":    "Lead {{contact}} routed to {{variables.queue}}",
					},
				},
			},
		},
	},
	Edges: []Edge{
		{ID: "e1", Source: "start", Target: "normalize"},
		{ID: "e2", Source: "normalize", Target: "route"},
		{ID: "e3", Source: "route", Target: "assign-sales", SourceHandle: "hot", Label: "Hot"},
		{ID: "e4", Source: "route", Target: "assign-nurture", SourceHandle: "cold", Label: "Cold"},
		{ID: "e5", Source: "assign-sales", Target: "end"},
		{ID: "e6", Source: "assign-nurture", Target: "end"},
	},
}
