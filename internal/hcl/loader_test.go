package hcl

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dnnflow/internal/config"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestLoader_FullFile(t *testing.T) {
	// --- Arrange ---
	dir := writeFiles(t, map[string]string{
		"pipeline.hcl": `
			training {
				layers        = 2
				epochs        = 5
				replicas      = 16
				workers       = 3
				runs          = 2
				hidden_units  = 8
				learning_rate = 0.1
				batch_size    = 10
			}
			dataset {
				samples       = 500
				features      = 4
				classes       = 3
				test_fraction = 0.25
				seed          = 7
			}
			report {
				url       = "http://localhost:3000/socket.io/"
				namespace = "/training"
			}
		`,
	})

	// --- Act ---
	model, err := NewLoader().Load(context.Background(), filepath.Join(dir, "pipeline.hcl"))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, config.Training{
		Layers: 2, Epochs: 5, Replicas: 16, Workers: 3, Runs: 2,
		HiddenUnits: 8, LearningRate: 0.1, BatchSize: 10,
	}, model.Training)
	assert.Equal(t, config.Dataset{
		Samples: 500, Features: 4, Classes: 3, TestFraction: 0.25, Seed: 7,
	}, model.Dataset)
	assert.Equal(t, "http://localhost:3000/socket.io/", model.Report.URL)
	assert.Equal(t, "/training", model.Report.Namespace)
}

func TestLoader_DefaultsAndExpressions(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"main.hcl": `
			training {
				workers  = min(runtime.num_cpu, 2)
				replicas = max(1, 4)
			}
		`,
	})

	model, err := NewLoader().Load(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, min(runtime.NumCPU(), 2), model.Training.Workers)
	assert.Equal(t, 4, model.Training.Replicas)
	assert.Equal(t, config.Default().Training.Layers, model.Training.Layers, "unset attributes keep their defaults")
	assert.Equal(t, config.Default().Dataset, model.Dataset)
}

func TestLoader_LaterFilesOverride(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a_base.hcl":     "training {\n  layers = 2\n  epochs = 3\n}\n",
		"b_override.hcl": `training { epochs = 9 }`,
		"notes.txt":      `not hcl at all`,
	})

	model, err := NewLoader().Load(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, 2, model.Training.Layers)
	assert.Equal(t, 9, model.Training.Epochs)
}

func TestLoader_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax error", `training {`, "failed to parse HCL file"},
		{"wrong type", `training { layers = "many" }`, "failed to decode HCL file"},
		{"unknown attribute", `training { depth = 3 }`, "failed to decode HCL file"},
		{"unknown variable", `training { workers = runtime.gpus }`, "failed to decode HCL file"},
		{"unknown block", `trainig { layers = 7 }`, "failed to decode HCL file"},
		{"top-level attribute", `layers = 7`, "failed to decode HCL file"},
		{"repeated block", "training {}\ntraining {}", `2 "training" blocks`},
		{"repeated blocks report in schema order", "report {}\nreport {}\ndataset {}\ndataset {}\ntraining {}\ntraining {}", `2 "training" blocks`},
		{"negative seed", `dataset { seed = -1 }`, "dataset.seed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeFiles(t, map[string]string{"bad.hcl": tc.content})

			_, err := NewLoader().Load(context.Background(), dir)

			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoader_MissingPath(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"))
	assert.ErrorContains(t, err, "error accessing path")
}

func TestLoader_DoesNotValidate(t *testing.T) {
	dir := writeFiles(t, map[string]string{"zero.hcl": `training { layers = 0 }`})

	model, err := NewLoader().Load(context.Background(), dir)

	require.NoError(t, err)
	assert.ErrorIs(t, model.Validate(), config.ErrInvalidConfig)
}
