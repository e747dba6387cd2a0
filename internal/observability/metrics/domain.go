package metrics

import "time"

// CompileFinished records one toolchain run.
func CompileFinished(toolchain, status string, took time.Duration) {
	if !enabled {
		return
	}
	compileTotal.WithLabelValues(toolchain, status).Inc()
	compileDuration.WithLabelValues(toolchain).Observe(took.Seconds())
}

// Deploy records a deployment attempt outcome.
func Deploy(network, status string) {
	if !enabled {
		return
	}
	deployTotal.WithLabelValues(network, status).Inc()
}

// Verification records a terminal verification outcome and the polls it took.
func Verification(network, result string, polls int) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(network, result).Inc()
	if polls > 0 {
		verificationPolls.WithLabelValues(network).Observe(float64(polls))
	}
}

// PipelineRun records the final stage of a pipeline run.
func PipelineRun(network, finalStage string) {
	if !enabled {
		return
	}
	pipelineRunsTotal.WithLabelValues(network, finalStage).Inc()
}

// PipelineStage records time spent in one stage.
func PipelineStage(stage string, took time.Duration) {
	if !enabled {
		return
	}
	pipelineStageDuration.WithLabelValues(stage).Observe(took.Seconds())
}

// Analysis records an AI analysis request.
func Analysis(status string) {
	if !enabled {
		return
	}
	analysisTotal.WithLabelValues(status).Inc()
}
