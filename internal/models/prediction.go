package models

// Prediction is the network output for a single augmented replica.
type Prediction struct {
	// Site holds the unnormalized site-classification logits.
	Site []float64

	// Age is the predicted age in years.
	Age float64

	// Gender is the predicted probability of the male class.
	Gender float64
}

// SubjectResult aggregates the replica predictions for one input image.
type SubjectResult struct {
	// FileName is the input path as given on the command line.
	FileName string

	// AgeMean and AgeStd summarize the replica age predictions,
	// NaN replicas excluded.
	AgeMean float64
	AgeStd  float64

	// GenderMean and GenderStd summarize the replica gender predictions.
	GenderMean float64
	GenderStd  float64

	// ReplicaAges keeps the per-replica age predictions for optional
	// distribution plots.
	ReplicaAges []float64
}
