package metrics

import "github.com/prometheus/client_golang/prometheus"

// AgentMetrics exposes counters for the agent pipeline. All methods are
// nil-safe so wiring metrics stays optional in tests.
type AgentMetrics struct {
	runsTotal     *prometheus.CounterVec
	commandsTotal *prometheus.CounterVec
	blockedTotal  *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	ruleRuns      *prometheus.CounterVec
}

func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	m := &AgentMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "loop",
			Name:      "runs_total",
			Help:      "Agent runs by terminal status",
		}, []string{"status"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "commands_total",
			Help:      "Executed commands by tag and outcome",
		}, []string{"tag", "outcome"}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "sends_blocked_total",
			Help:      "Blocked outbound sends by reason",
		}, []string{"reason"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "loop",
			Name:      "model_calls_total",
			Help:      "Model completions by outcome",
		}, []string{"outcome"}),
		ruleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "automation",
			Name:      "rule_runs_total",
			Help:      "Automation rule evaluations by status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.commandsTotal, m.blockedTotal, m.modelCalls, m.ruleRuns)
	return m
}

func (m *AgentMetrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *AgentMetrics) ObserveCommand(tag, outcome string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(tag, outcome).Inc()
}

func (m *AgentMetrics) ObserveBlocked(reason string) {
	if m == nil {
		return
	}
	m.blockedTotal.WithLabelValues(reason).Inc()
}

func (m *AgentMetrics) ObserveModelCall(outcome string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(outcome).Inc()
}

func (m *AgentMetrics) ObserveRuleRun(status string) {
	if m == nil {
		return
	}
	m.ruleRuns.WithLabelValues(status).Inc()
}
