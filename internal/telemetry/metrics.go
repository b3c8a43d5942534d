package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/certchain"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Key metrics
	KeysGeneratedTotal    metric.Int64Counter
	KeyGenerationDuration metric.Float64Histogram

	// Signing metrics
	CertificatesSignedTotal metric.Int64Counter
	SigningErrorsTotal      metric.Int64Counter
	SigningDuration         metric.Float64Histogram

	// Chain metrics
	ChainsBuiltTotal       metric.Int64Counter
	ChainBuildErrorsTotal  metric.Int64Counter
	ChainBuildDuration     metric.Float64Histogram
	CertificatesRegistered metric.Int64Counter

	// Encoder metrics
	ArtifactsEncodedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Key metrics
	m.KeysGeneratedTotal, _ = meter.Int64Counter(
		"certchain.keys.generated.total",
		metric.WithDescription("Total number of key pairs generated"),
		metric.WithUnit("{key}"),
	)

	m.KeyGenerationDuration, _ = meter.Float64Histogram(
		"certchain.keys.generation.duration",
		metric.WithDescription("Duration of key pair generation"),
		metric.WithUnit("ms"),
	)

	// Signing metrics
	m.CertificatesSignedTotal, _ = meter.Int64Counter(
		"certchain.certificates.signed.total",
		metric.WithDescription("Total number of certificates signed"),
		metric.WithUnit("{certificate}"),
	)

	m.SigningErrorsTotal, _ = meter.Int64Counter(
		"certchain.certificates.signing.errors.total",
		metric.WithDescription("Total number of failed signing attempts"),
		metric.WithUnit("{error}"),
	)

	m.SigningDuration, _ = meter.Float64Histogram(
		"certchain.certificates.signing.duration",
		metric.WithDescription("Duration of certificate signing including verification"),
		metric.WithUnit("ms"),
	)

	// Chain metrics
	m.ChainsBuiltTotal, _ = meter.Int64Counter(
		"certchain.chains.built.total",
		metric.WithDescription("Total number of certificate chains built"),
		metric.WithUnit("{chain}"),
	)

	m.ChainBuildErrorsTotal, _ = meter.Int64Counter(
		"certchain.chains.errors.total",
		metric.WithDescription("Total number of chain builds that failed"),
		metric.WithUnit("{error}"),
	)

	m.ChainBuildDuration, _ = meter.Float64Histogram(
		"certchain.chains.build.duration",
		metric.WithDescription("Duration of a full chain build"),
		metric.WithUnit("ms"),
	)

	m.CertificatesRegistered, _ = meter.Int64Counter(
		"certchain.ledger.registered.total",
		metric.WithDescription("Total number of certificates recorded in the issuance ledger"),
		metric.WithUnit("{certificate}"),
	)

	// Encoder metrics
	m.ArtifactsEncodedTotal, _ = meter.Int64Counter(
		"certchain.artifacts.encoded.total",
		metric.WithDescription("Total number of encoded artifacts (PEM blocks and keystores)"),
		metric.WithUnit("{artifact}"),
	)

	return m
}
