// Package metrics holds the Prometheus collectors of the user subsystem.
// All collectors register with the default registry on package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stustapay"

// LoginsTotal counts login attempts.
// Label:
//   - result: "success" or "failure"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "user_logins_total",
		Help:      "Total number of user login attempts, by result.",
	},
	[]string{"result"},
)

// LogoutsTotal counts logout calls.
// Label:
//   - result: "success" or "rejected"
var LogoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "user_logouts_total",
		Help:      "Total number of user logouts, by result.",
	},
	[]string{"result"},
)

// UsersCreatedTotal counts users created.
// Label:
//   - source: "admin", "tag" or "bootstrap"
var UsersCreatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_created_total",
		Help:      "Total number of users created, by creation path.",
	},
	[]string{"source"},
)

// PromotionsTotal counts privilege promotions that granted a new privilege.
// Label:
//   - privilege: "cashier" or "finanzorga"
var PromotionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "user_promotions_total",
		Help:      "Total number of privilege promotions, by granted privilege.",
	},
	[]string{"privilege"},
)
