package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RewardsMetrics exposes pool activity to Prometheus. Amount-valued series are
// reported as floats and lose precision beyond 2^53 wei; they are operational
// signals, not accounting records.
type RewardsMetrics struct {
	totalStaked  prometheus.Gauge
	rewardRate   prometheus.Gauge
	periodFinish prometheus.Gauge
	stakedTotal  prometheus.Counter
	withdrawn    prometheus.Counter
	rewardsPaid  prometheus.Counter
	rewardsAdded prometheus.Counter
	rejectedOps  *prometheus.CounterVec
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *RewardsMetrics
)

// Rewards returns the lazily-initialised rewards metrics registry.
func Rewards() *RewardsMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "rewards_total_staked",
				Help: "Current aggregate staked amount in the pool.",
			}),
			rewardRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "rewards_reward_rate",
				Help: "Reward units emitted per second for the active period.",
			}),
			periodFinish: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "rewards_period_finish",
				Help: "Unix timestamp at which the active emission period ends.",
			}),
			stakedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_staked_total",
				Help: "Cumulative amount staked across all operations.",
			}),
			withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_withdrawn_total",
				Help: "Cumulative amount withdrawn across all operations.",
			}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_paid_total",
				Help: "Cumulative reward forwarded to the allocation ledger.",
			}),
			rewardsAdded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "rewards_added_total",
				Help: "Cumulative reward injected by the authority.",
			}),
			rejectedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_rejected_ops_total",
				Help: "Count of rejected operations by gateway route.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			rewardsRegistry.totalStaked,
			rewardsRegistry.rewardRate,
			rewardsRegistry.periodFinish,
			rewardsRegistry.stakedTotal,
			rewardsRegistry.withdrawn,
			rewardsRegistry.rewardsPaid,
			rewardsRegistry.rewardsAdded,
			rewardsRegistry.rejectedOps,
		)
	})
	return rewardsRegistry
}

// SetPoolGauges refreshes the point-in-time pool gauges.
func (m *RewardsMetrics) SetPoolGauges(totalStaked, rewardRate *big.Int, periodFinish uint64) {
	if m == nil {
		return
	}
	m.totalStaked.Set(bigFloat(totalStaked))
	m.rewardRate.Set(bigFloat(rewardRate))
	m.periodFinish.Set(float64(periodFinish))
}

// RecordStaked adds to the cumulative staked counter.
func (m *RewardsMetrics) RecordStaked(amount *big.Int) {
	if m == nil {
		return
	}
	m.stakedTotal.Add(bigFloat(amount))
}

// RecordWithdrawn adds to the cumulative withdrawn counter.
func (m *RewardsMetrics) RecordWithdrawn(amount *big.Int) {
	if m == nil {
		return
	}
	m.withdrawn.Add(bigFloat(amount))
}

// RecordRewardPaid adds to the cumulative paid counter.
func (m *RewardsMetrics) RecordRewardPaid(amount *big.Int) {
	if m == nil {
		return
	}
	m.rewardsPaid.Add(bigFloat(amount))
}

// RecordRewardAdded adds to the cumulative injected counter.
func (m *RewardsMetrics) RecordRewardAdded(amount *big.Int) {
	if m == nil {
		return
	}
	m.rewardsAdded.Add(bigFloat(amount))
}

// RecordRejected counts a rejected operation for the given route.
func (m *RewardsMetrics) RecordRejected(route string) {
	if m == nil {
		return
	}
	m.rejectedOps.WithLabelValues(route).Inc()
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
