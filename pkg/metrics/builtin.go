package metrics

// 内置指标名，与 k6 保持一致
const (
	HTTPReqsName              = "http_reqs"
	HTTPReqFailedName         = "http_req_failed"
	HTTPReqDurationName       = "http_req_duration"
	HTTPReqBlockedName        = "http_req_blocked"
	HTTPReqConnectingName     = "http_req_connecting"
	HTTPReqTLSHandshakingName = "http_req_tls_handshaking"
	HTTPReqSendingName        = "http_req_sending"
	HTTPReqWaitingName        = "http_req_waiting"
	HTTPReqReceivingName      = "http_req_receiving"
	ChecksName                = "checks"
	IterationsName            = "iterations"
	IterationDurationName     = "iteration_duration"
	DataSentName              = "data_sent"
	DataReceivedName          = "data_received"
	VUsName                   = "vus"
	VUsMaxName                = "vus_max"
)

// BuiltinMetrics 持有所有内置指标
type BuiltinMetrics struct {
	HTTPReqs              *Metric
	HTTPReqFailed         *Metric
	HTTPReqDuration       *Metric
	HTTPReqBlocked        *Metric
	HTTPReqConnecting     *Metric
	HTTPReqTLSHandshaking *Metric
	HTTPReqSending        *Metric
	HTTPReqWaiting        *Metric
	HTTPReqReceiving      *Metric
	Checks                *Metric
	Iterations            *Metric
	IterationDuration     *Metric
	DataSent              *Metric
	DataReceived          *Metric
	VUs                   *Metric
	VUsMax                *Metric
}

// RegisterBuiltinMetrics 在注册表中注册所有内置指标
func RegisterBuiltinMetrics(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		HTTPReqs:              r.MustNewMetric(HTTPReqsName, Counter),
		HTTPReqFailed:         r.MustNewMetric(HTTPReqFailedName, Rate),
		HTTPReqDuration:       r.MustNewMetric(HTTPReqDurationName, Trend, Time),
		HTTPReqBlocked:        r.MustNewMetric(HTTPReqBlockedName, Trend, Time),
		HTTPReqConnecting:     r.MustNewMetric(HTTPReqConnectingName, Trend, Time),
		HTTPReqTLSHandshaking: r.MustNewMetric(HTTPReqTLSHandshakingName, Trend, Time),
		HTTPReqSending:        r.MustNewMetric(HTTPReqSendingName, Trend, Time),
		HTTPReqWaiting:        r.MustNewMetric(HTTPReqWaitingName, Trend, Time),
		HTTPReqReceiving:      r.MustNewMetric(HTTPReqReceivingName, Trend, Time),
		Checks:                r.MustNewMetric(ChecksName, Rate),
		Iterations:            r.MustNewMetric(IterationsName, Counter),
		IterationDuration:     r.MustNewMetric(IterationDurationName, Trend, Time),
		DataSent:              r.MustNewMetric(DataSentName, Counter, Data),
		DataReceived:          r.MustNewMetric(DataReceivedName, Counter, Data),
		VUs:                   r.MustNewMetric(VUsName, Gauge),
		VUsMax:                r.MustNewMetric(VUsMaxName, Gauge),
	}
}
