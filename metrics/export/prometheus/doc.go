// Package prometheus renders healthauth engine metrics in Prometheus text
// exposition format.
//
// Counters are named healthauth_*_total. The phone code confirmation
// latency histogram is exposed only when latency histograms are enabled.
// Callers mount [Exporter.Handler]; nothing is registered globally.
package prometheus
