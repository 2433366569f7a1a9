package job

import (
	"testing"
)

func TestParseHyperParamsGBTDefaults(t *testing.T) {
	spec := Spec{Model: GBT, Compute: SingleGPU, CVFolds: 1}

	hp, err := ParseHyperParams(spec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp.GBT == nil {
		t.Fatal("expected GBT params")
	}
	if hp.Forest != nil {
		t.Fatal("expected no Forest params")
	}

	p := hp.GBT
	if p.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", p.MaxDepth)
	}
	if p.NumBoostRound != 10 {
		t.Errorf("NumBoostRound = %d, want 10", p.NumBoostRound)
	}
	if p.Subsample != 0.25 {
		t.Errorf("Subsample = %v, want 0.25", p.Subsample)
	}
	if p.LearningRate != 0.3 {
		t.Errorf("LearningRate = %v, want 0.3", p.LearningRate)
	}
	if p.Lambda != 0.2 {
		t.Errorf("Lambda = %v, want 0.2", p.Lambda)
	}
	if p.Objective != "binary:logistic" {
		t.Errorf("Objective = %q, want binary:logistic", p.Objective)
	}
	if p.Device != DeviceGPU {
		t.Errorf("Device = %v, want gpu", p.Device)
	}
	if p.NumThreads != 0 {
		t.Errorf("NumThreads = %d, want 0 outside single-CPU", p.NumThreads)
	}
}

func TestParseHyperParamsGBTOverrides(t *testing.T) {
	spec := Spec{Model: GBT, Compute: MultiCPU, CVFolds: 3}
	args := []string{
		"--max_depth", "8",
		"--num_boost_round=100",
		"--learning_rate", "0.05",
		"--subsample=0.8",
		"--lambda_l2", "1.5",
		"--gamma", "0.1",
		"--alpha=0.01",
		"--seed", "77",
	}

	hp, err := ParseHyperParams(spec, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := hp.GBT
	if p.MaxDepth != 8 {
		t.Errorf("MaxDepth = %d, want 8", p.MaxDepth)
	}
	if p.NumBoostRound != 100 {
		t.Errorf("NumBoostRound = %d, want 100", p.NumBoostRound)
	}
	if p.LearningRate != 0.05 {
		t.Errorf("LearningRate = %v, want 0.05", p.LearningRate)
	}
	if p.Subsample != 0.8 {
		t.Errorf("Subsample = %v, want 0.8", p.Subsample)
	}
	if p.Lambda != 1.5 {
		t.Errorf("Lambda = %v, want 1.5", p.Lambda)
	}
	if p.Gamma != 0.1 {
		t.Errorf("Gamma = %v, want 0.1", p.Gamma)
	}
	if p.Alpha != 0.01 {
		t.Errorf("Alpha = %v, want 0.01", p.Alpha)
	}
	if p.Seed != 77 {
		t.Errorf("Seed = %d, want 77", p.Seed)
	}
	if p.Device != DeviceCPU {
		t.Errorf("Device = %v, want cpu", p.Device)
	}
}

func TestParseHyperParamsSingleCPUThreads(t *testing.T) {
	spec := Spec{Model: GBT, Compute: SingleCPU, CVFolds: 1}

	hp, err := ParseHyperParams(spec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp.GBT.NumThreads < 1 {
		t.Errorf("NumThreads = %d, want >= 1 on single-CPU", hp.GBT.NumThreads)
	}
}

func TestParseHyperParamsForest(t *testing.T) {
	spec := Spec{Model: RandomForest, Compute: MultiGPU, CVFolds: 2}
	args := []string{"--max_depth=12", "--n_estimators", "200", "--max_features", "0.5", "--seed=3"}

	hp, err := ParseHyperParams(spec, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp.Forest == nil {
		t.Fatal("expected Forest params")
	}
	if hp.GBT != nil {
		t.Fatal("expected no GBT params")
	}

	p := hp.Forest
	if p.MaxDepth != 12 {
		t.Errorf("MaxDepth = %d, want 12", p.MaxDepth)
	}
	if p.NEstimators != 200 {
		t.Errorf("NEstimators = %d, want 200", p.NEstimators)
	}
	if p.MaxFeatures != 0.5 {
		t.Errorf("MaxFeatures = %v, want 0.5", p.MaxFeatures)
	}
	if p.Seed != 3 {
		t.Errorf("Seed = %d, want 3", p.Seed)
	}
	if p.Device != DeviceGPU {
		t.Errorf("Device = %v, want gpu", p.Device)
	}
}

func TestParseHyperParamsIgnoresUnknownFlags(t *testing.T) {
	spec := Spec{Model: GBT, Compute: SingleGPU, CVFolds: 1}
	args := []string{
		"--model_dir", "/opt/ml/model",
		"--max_depth", "7",
		"--hpo_trial_id", "trial-0042",
		"--verbosity=3",
		"positional",
	}

	hp, err := ParseHyperParams(spec, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp.GBT.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d, want 7", hp.GBT.MaxDepth)
	}
	if hp.GBT.NumBoostRound != 10 {
		t.Errorf("NumBoostRound = %d, want default 10", hp.GBT.NumBoostRound)
	}
}

func TestParseHyperParamsNegativeValues(t *testing.T) {
	spec := Spec{Model: GBT, Compute: SingleGPU, CVFolds: 1}
	args := []string{
		"--seed", "-5",
		"--alpha", "-0.1",
		"--unknown_flag", "--max_depth", "3",
	}

	hp, err := ParseHyperParams(spec, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp.GBT.Seed != -5 {
		t.Errorf("Seed = %d, want -5", hp.GBT.Seed)
	}
	if hp.GBT.Alpha != -0.1 {
		t.Errorf("Alpha = %v, want -0.1", hp.GBT.Alpha)
	}
	// "--max_depth" after an unknown flag is still a flag, not its value.
	if hp.GBT.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", hp.GBT.MaxDepth)
	}
}

func TestParseHyperParamsBadValue(t *testing.T) {
	spec := Spec{Model: GBT, Compute: SingleGPU, CVFolds: 1}

	if _, err := ParseHyperParams(spec, []string{"--max_depth", "deep"}); err == nil {
		t.Fatal("expected error for non-integer max_depth")
	}
}

func TestFlagName(t *testing.T) {
	tests := []struct {
		arg       string
		wantName  string
		wantValue bool
	}{
		{"--max_depth", "max_depth", false},
		{"-seed", "seed", false},
		{"--learning_rate=0.1", "learning_rate", true},
		{"positional", "", false},
		{"--", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			name, hasValue := flagName(tt.arg)
			if name != tt.wantName || hasValue != tt.wantValue {
				t.Errorf("flagName(%q) = (%q, %v), want (%q, %v)",
					tt.arg, name, hasValue, tt.wantName, tt.wantValue)
			}
		})
	}
}
