package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for requests and background jobs.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsStarted          = make(map[string]int64)
	jobsDispatchFailures = make(map[string]int64)
	jobsFinished         = make(map[string]int64)
	jobsTimeouts         int64
	untrustedInvocations int64

	retentionJobsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJobStarted counts a job created for the given route.
func RecordJobStarted(route string) {
	mu.Lock()
	defer mu.Unlock()
	jobsStarted[route]++
}

// RecordDispatchFailure counts a job whose hand-off to the transport
// failed.
func RecordDispatchFailure(route string) {
	mu.Lock()
	defer mu.Unlock()
	jobsDispatchFailures[route]++
}

// RecordJobFinished counts a terminal status write.
func RecordJobFinished(status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsFinished[status]++
}

// RecordJobTimeout counts a job presumed dead by the staleness check.
func RecordJobTimeout() {
	mu.Lock()
	defer mu.Unlock()
	jobsTimeouts++
}

// RecordUntrustedInvocation counts a request that presented a job id from
// a non-local address.
func RecordUntrustedInvocation() {
	mu.Lock()
	defer mu.Unlock()
	untrustedInvocations++
}

// RecordRetentionJobs increments the counter of jobs deleted by
// retention cleanup.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP backjob_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE backjob_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "backjob_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP backjob_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE backjob_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP backjob_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE backjob_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "backjob_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "backjob_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	writeLabeled(&b, "backjob_jobs_started_total", "Total jobs started by route", "route", jobsStarted)
	writeLabeled(&b, "backjob_jobs_dispatch_failures_total", "Total jobs whose dispatch hand-off failed", "route", jobsDispatchFailures)
	writeLabeled(&b, "backjob_jobs_finished_total", "Total terminal status writes by status", "status", jobsFinished)

	b.WriteString("# HELP backjob_jobs_timeouts_total Total jobs failed by the staleness timeout\n")
	b.WriteString("# TYPE backjob_jobs_timeouts_total counter\n")
	fmt.Fprintf(&b, "backjob_jobs_timeouts_total %d\n", jobsTimeouts)

	b.WriteString("# HELP backjob_untrusted_invocations_total Requests presenting a job id from a non-local address\n")
	b.WriteString("# TYPE backjob_untrusted_invocations_total counter\n")
	fmt.Fprintf(&b, "backjob_untrusted_invocations_total %d\n", untrustedInvocations)

	b.WriteString("# HELP backjob_retention_jobs_deleted_total Total jobs deleted by retention cleanup\n")
	b.WriteString("# TYPE backjob_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "backjob_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}

func writeLabeled(b *strings.Builder, name, help, label string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
}
