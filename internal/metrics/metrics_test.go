package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func counterWithLabel(f *dto.MetricFamily, label, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestBookingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveBooking("created")
	m.ObserveBooking("created")
	m.ObserveBooking("SLOT_ALREADY_BOOKED")
	m.ObserveTransition("CANCELLED", "ok")
	m.ObserveAvailability(0.012)
	m.AddDelivered(3)
	m.AddDelivered(0)

	bookings := findFamily(t, reg, "clinic_booking_requests_total")
	assert.Equal(t, 2.0, counterWithLabel(bookings, "outcome", "created"))
	assert.Equal(t, 1.0, counterWithLabel(bookings, "outcome", "SLOT_ALREADY_BOOKED"))

	transitions := findFamily(t, reg, "clinic_booking_transitions_total")
	assert.Equal(t, 1.0, counterWithLabel(transitions, "to", "CANCELLED"))

	latency := findFamily(t, reg, "clinic_booking_availability_latency_seconds")
	require.Len(t, latency.GetMetric(), 1)
	assert.Equal(t, uint64(1), latency.GetMetric()[0].GetHistogram().GetSampleCount())

	delivered := findFamily(t, reg, "clinic_outbox_delivered_total")
	assert.Equal(t, 3.0, delivered.GetMetric()[0].GetCounter().GetValue())
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *BookingMetrics
	assert.NotPanics(t, func() {
		m.ObserveBooking("created")
		m.ObserveTransition("CONFIRMED", "ok")
		m.ObserveAvailability(1)
		m.AddDelivered(1)
	})
}
