package subscription

import (
	"context"
	"math"
	"testing"

	"inkpass/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans_RecordPaymentsAboveMaxInt64(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	provider := telemetry.NewProvider(exporter, "inkpass-test")
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	f := newLedger(t)
	var payment uint64 = math.MaxUint64
	h, err := f.svc.Subscribe(ctx, f.pricing, TierBasic, payment, reader)
	require.NoError(t, err)
	_, err = f.svc.Renew(ctx, h.ID, f.pricing, payment-1, reader)
	require.Error(t, err)

	require.NoError(t, provider.ForceFlush(ctx))
	byName := make(map[string][]attribute.KeyValue)
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s.Attributes
	}
	require.Contains(t, byName, "ledger.subscribe")
	assert.Contains(t, byName["ledger.subscribe"], attribute.String("payment", "18446744073709551615"))
	assert.Contains(t, byName["ledger.renew"], attribute.String("payment", "18446744073709551614"))
}
