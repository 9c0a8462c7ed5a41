// Package ml talks to the external fraud-model service and turns its
// predictions into scoring inputs for the risk engine.
package ml

// Signal is the normalized model output for one address.
type Signal struct {
	FraudProbability float64 `json:"fraud_probability"`
	RiskScore        float64 `json:"risk_score"`
	IsFraud          bool    `json:"is_fraud"`
	Confidence       float64 `json:"confidence"`
	ModelVersion     string  `json:"model_version"`
}

// AnomalySignal is the outlier-detector output for one address.
type AnomalySignal struct {
	IsAnomaly        bool     `json:"is_anomaly"`
	AnomalyScore     float64  `json:"anomaly_score"`
	AnomalyThreshold float64  `json:"anomaly_threshold"`
	AnomalyReasons   []string `json:"anomaly_reasons,omitempty"`
}
