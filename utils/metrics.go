package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsTotal counts committed ledger mutations by merchant and mode
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_transactions_total",
		Help: "Committed point transactions",
	}, []string{"merchant", "mode"})

	// AuthFailuresTotal counts recorded authentication failures by realm
	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_auth_failures_total",
		Help: "Recorded authentication failures",
	}, []string{"realm"})

	// LockoutsTotal counts imposed lockouts by kind (cooldown, permanent)
	LockoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_lockouts_total",
		Help: "Imposed authentication lockouts",
	}, []string{"kind"})

	// TokenResolutionsTotal counts token resolutions by family and outcome
	TokenResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_token_resolutions_total",
		Help: "Authorization token resolutions",
	}, []string{"family", "outcome"})
)
