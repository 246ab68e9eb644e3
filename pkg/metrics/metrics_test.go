package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it uses the service namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.pendingMerges.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make(map[string]bool)
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["raidsync_ingest_pending_merges_total"], ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				manager.admissionRejected.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_admission_rejected_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then registration panics on duplicates", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording upload outcomes", func() {
			before := testutil.ToFloat64(globalManager.uploads.WithLabelValues("accepted"))
			RecordUpload("accepted")
			RecordUpload("accepted")

			Convey("Then the labelled counter moves", func() {
				So(testutil.ToFloat64(globalManager.uploads.WithLabelValues("accepted")), ShouldEqual, before+2)
			})
		})

		Convey("When updating gauges", func() {
			UpdatePendingAggregations(3)
			UpdateAdmissionActive(5)
			UpdateRPCWaiters(2)
			UpdateRPCConnected(true)

			Convey("Then they hold the last value", func() {
				So(testutil.ToFloat64(globalManager.pendingActive), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.admissionActive), ShouldEqual, 5)
				So(testutil.ToFloat64(globalManager.rpcWaiters), ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.rpcConnected), ShouldEqual, 1)
			})

			UpdateRPCConnected(false)
			So(testutil.ToFloat64(globalManager.rpcConnected), ShouldEqual, 0)
		})

		Convey("When recording the rest of the surface", func() {
			So(func() {
				RecordUploadLatency(12)
				RecordPendingMerge()
				RecordFinalized("SUCCESS")
				RecordFinalizeLatency(3)
				RecordAdmissionRejected()
				RecordAdmissionSwept(4)
				RecordRPCCall("identity_details", "ok")
				RecordRPCLatency("identity_details", 1.5)
				RecordRPCReconnect()
				RecordStoreLatency("create_summary", 0.4)
				RecordSecretsLookup("hit")
				RecordHTTPRequest("/upload", "POST", "200")
				RecordHTTPRequestDuration("/upload", "POST", "200", 10)
				UpdateQueueCapacity(10)
				UpdateQueueSize(1)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(1)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordErrorByComponent("queue", "closed")
			}, ShouldNotPanic)
		})

		Convey("Then the registry exposes them", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
