package hcl

// fileRoot is a struct used to decode all possible top-level blocks from any
// file. Unknown blocks and attributes are decode errors.
type fileRoot struct {
	Training []*trainingBlock `hcl:"training,block"`
	Dataset  []*datasetBlock  `hcl:"dataset,block"`
	Report   []*reportBlock   `hcl:"report,block"`
}

// Every attribute is optional; unset ones keep the value from earlier files
// or the defaults.

type trainingBlock struct {
	Layers       *int     `hcl:"layers,optional"`
	Epochs       *int     `hcl:"epochs,optional"`
	Replicas     *int     `hcl:"replicas,optional"`
	Workers      *int     `hcl:"workers,optional"`
	Runs         *int     `hcl:"runs,optional"`
	HiddenUnits  *int     `hcl:"hidden_units,optional"`
	LearningRate *float64 `hcl:"learning_rate,optional"`
	BatchSize    *int     `hcl:"batch_size,optional"`
}

type datasetBlock struct {
	Samples      *int     `hcl:"samples,optional"`
	Features     *int     `hcl:"features,optional"`
	Classes      *int     `hcl:"classes,optional"`
	TestFraction *float64 `hcl:"test_fraction,optional"`
	Seed         *int64   `hcl:"seed,optional"`
}

type reportBlock struct {
	URL       *string `hcl:"url,optional"`
	Namespace *string `hcl:"namespace,optional"`
}
