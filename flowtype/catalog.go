package flowtype

// Builtin returns the configurations for the standard flow types.
// The engine registers these at startup; callers that need additional
// types register them before VerifyAll runs.
func Builtin() []*Config {
	return []*Config{
		{
			Type: Discovery,
			Phases: []Phase{
				{Name: "data_import", Validators: []string{"source_reachable"}, Handler: "discovery.import"},
				{Name: "field_mapping", Validators: []string{"schema_present"}, Handler: "discovery.map_fields"},
				{Name: "entity_extraction", Handler: "discovery.extract"},
				{Name: "relationship_analysis", Handler: "discovery.analyze"},
				{Name: "confidence_review", Validators: []string{"extraction_complete"}, Handler: "discovery.review"},
				{Name: "report_generation", Handler: "discovery.report"},
			},
			Capabilities: Capabilities{PauseResume: true, Checkpointing: true},
			ErrorHandler: "discovery.on_error",
		},
		{
			Type: Assessment,
			Phases: []Phase{
				{Name: "scope_definition", Validators: []string{"engagement_active"}, Handler: "assessment.scope"},
				{Name: "evidence_gathering", Handler: "assessment.gather"},
				{Name: "gap_analysis", Handler: "assessment.gaps"},
				{Name: "risk_scoring", Validators: []string{"evidence_complete"}, Handler: "assessment.score"},
				{Name: "findings_report", Handler: "assessment.report"},
			},
			Capabilities: Capabilities{PauseResume: true, Checkpointing: true, Rollback: true},
			ErrorHandler: "assessment.on_error",
		},
		{
			Type: Collection,
			Phases: []Phase{
				{Name: "source_registration", Validators: []string{"credentials_valid"}, Handler: "collection.register"},
				{Name: "extraction", Handler: "collection.extract"},
				{Name: "normalization", Handler: "collection.normalize"},
				{Name: "validation", Validators: []string{"record_counts_match"}, Handler: "collection.validate"},
			},
			Capabilities: Capabilities{PauseResume: true, Checkpointing: true, MaxIterations: 10},
			ErrorHandler: "collection.on_error",
		},
		{
			Type: Planning,
			Phases: []Phase{
				{Name: "objective_intake", Validators: []string{"objectives_present"}, Handler: "planning.intake"},
				{Name: "dependency_resolution", Handler: "planning.dependencies"},
				{Name: "schedule_build", Handler: "planning.schedule"},
				{Name: "approval", Validators: []string{"approver_assigned"}, Handler: "planning.approve"},
			},
			Capabilities: Capabilities{PauseResume: true, Checkpointing: true},
			ErrorHandler: "planning.on_error",
		},
		{
			Type: Execution,
			Phases: []Phase{
				{Name: "preflight", Validators: []string{"plan_approved"}, Handler: "execution.preflight"},
				{Name: "apply", Handler: "execution.apply"},
				{Name: "verification", Handler: "execution.verify"},
				{Name: "closeout", Handler: "execution.closeout"},
			},
			Capabilities: Capabilities{Checkpointing: true, Rollback: true},
			ErrorHandler: "execution.on_error",
		},
	}
}

// RegisterBuiltin registers all built-in flow types into the registry.
func RegisterBuiltin(r *Registry) error {
	for _, cfg := range Builtin() {
		if err := r.RegisterFlowType(cfg); err != nil {
			return err
		}
	}
	return nil
}
