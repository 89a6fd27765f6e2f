// Package robbery computes a robbery plan: it asks the banks listening on a
// fixed port range of this host for their funds and client counts, then
// picks banks greedily until a target amount is covered.
package robbery

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/example/bank-node/internal/metrics"
)

// Default candidate port range and fan-out.
const (
	DefaultPortFrom    = 65525
	DefaultPortTo      = 65535
	DefaultConcurrency = 4
)

// Forwarder sends one line to a bank and returns its reply.
type Forwarder interface {
	Forward(ctx context.Context, address string, port int, line string) (string, error)
}

// LocalBank answers for this node without a network round trip.
type LocalBank interface {
	TotalAmount(ctx context.Context) (int64, error)
	AccountCount(ctx context.Context) (int, error)
}

// Snapshot is what one bank reported.
type Snapshot struct {
	Address string
	Total   int64
	Clients int
}

// Plan is the outcome of a robbery plan.
type Plan struct {
	Target  int64
	Banks   []Snapshot
	Total   int64
	Clients int
}

// Reached reports whether the chosen banks cover the target.
func (p Plan) Reached() bool {
	return p.Total >= p.Target
}

// String renders the plan as the sentence clients receive.
func (p Plan) String() string {
	if len(p.Banks) == 0 {
		if p.Target == 0 {
			return "Nothing to rob for a target of 0; 0 clients affected."
		}
		return "No banks available; 0 clients affected."
	}

	addrs := make([]string, len(p.Banks))
	for i, b := range p.Banks {
		addrs[i] = b.Address
	}
	banks := strings.Join(addrs, ", ")

	if p.Reached() {
		return fmt.Sprintf("To rob %d rob banks %s; total %d, affecting %d clients.",
			p.Target, banks, p.Total, p.Clients)
	}
	return fmt.Sprintf("Only %d of %d can be robbed from banks %s, affecting %d clients.",
		p.Total, p.Target, banks, p.Clients)
}

// Config describes where sibling banks listen.
type Config struct {
	// Host is the address every candidate shares; this node's address.
	Host string
	// SelfPort is this node's port. If it falls into the range it is
	// answered by the local bank.
	SelfPort    int
	PortFrom    int
	PortTo      int
	Concurrency int
}

// surveyKey names the one survey in flight; concurrent plans share it.
const surveyKey = "survey"

// Planner gathers snapshots and builds plans.
type Planner struct {
	cfg       Config
	forwarder Forwarder
	local     LocalBank
	logger    *logrus.Entry

	singleflight *singleflight.Group
}

// NewPlanner creates a planner.
func NewPlanner(cfg Config, forwarder Forwarder, local LocalBank, logger *logrus.Entry) *Planner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Planner{
		cfg:          cfg,
		forwarder:    forwarder,
		local:        local,
		logger:       logger,
		singleflight: &singleflight.Group{},
	}
}

// Plan probes every candidate and selects banks for target. Unreachable or
// misbehaving candidates are left out; Plan itself only fails if ctx is done.
// Plans requested while a survey is running reuse its result.
func (p *Planner) Plan(ctx context.Context, target int64) (Plan, error) {
	v, err, shared := p.singleflight.Do(surveyKey, func() (interface{}, error) {
		return p.Survey(ctx)
	})
	if err != nil {
		return Plan{}, err
	}
	snapshots := v.([]Snapshot)
	if shared {
		p.logger.WithField("target", target).Debug("survey shared with a concurrent plan")
	}
	metrics.RobberyPlans.Inc()
	metrics.RobberyCandidates.Set(float64(len(snapshots)))

	plan := Select(snapshots, target)
	p.logger.WithFields(logrus.Fields{
		"target":     target,
		"candidates": len(snapshots),
		"chosen":     len(plan.Banks),
		"total":      plan.Total,
		"clients":    plan.Clients,
	}).Info("robbery plan computed")
	return plan, nil
}

// Survey collects a snapshot from every responsive candidate, in port order.
func (p *Planner) Survey(ctx context.Context) ([]Snapshot, error) {
	if p.cfg.PortTo < p.cfg.PortFrom {
		return nil, nil
	}

	ports := make([]int, 0, p.cfg.PortTo-p.cfg.PortFrom+1)
	for port := p.cfg.PortFrom; port <= p.cfg.PortTo; port++ {
		ports = append(ports, port)
	}
	results := make([]*Snapshot, len(ports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, port := range ports {
		i, port := i, port
		g.Go(func() error {
			snap, err := p.probe(gctx, port)
			if err != nil {
				p.logger.WithField("port", port).WithError(err).Debug("candidate excluded")
				return nil
			}
			results[i] = &snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Snapshot
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (p *Planner) probe(ctx context.Context, port int) (Snapshot, error) {
	snap := Snapshot{Address: net.JoinHostPort(p.cfg.Host, strconv.Itoa(port))}

	if port == p.cfg.SelfPort && p.local != nil {
		total, err := p.local.TotalAmount(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		clients, err := p.local.AccountCount(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Total, snap.Clients = total, clients
		return snap, nil
	}

	total, err := p.query(ctx, port, "BA")
	if err != nil {
		return Snapshot{}, err
	}
	clients, err := p.query(ctx, port, "BN")
	if err != nil {
		return Snapshot{}, err
	}
	if clients > math.MaxInt32 {
		return Snapshot{}, fmt.Errorf("implausible client count %d", clients)
	}
	snap.Total, snap.Clients = total, int(clients)
	return snap, nil
}

// query sends code and expects "<code> <non-negative integer>" back.
func (p *Planner) query(ctx context.Context, port int, code string) (int64, error) {
	reply, err := p.forwarder.Forward(ctx, p.cfg.Host, port, code)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != code {
		return 0, fmt.Errorf("unexpected reply %q to %s", reply, code)
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unexpected reply %q to %s", reply, code)
	}
	return n, nil
}

// Rank orders snapshots by fewest clients first, larger funds breaking ties,
// address last so the order is deterministic.
func Rank(snapshots []Snapshot) []Snapshot {
	ranked := append([]Snapshot(nil), snapshots...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Clients != b.Clients {
			return a.Clients < b.Clients
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Address < b.Address
	})
	return ranked
}

// Select walks the ranking and takes banks until the accumulated total
// reaches target. When it never does, the plan holds every candidate.
func Select(snapshots []Snapshot, target int64) Plan {
	plan := Plan{Target: target}
	for _, s := range Rank(snapshots) {
		if plan.Total >= target {
			break
		}
		plan.Banks = append(plan.Banks, s)
		plan.Clients += s.Clients
		if s.Total > math.MaxInt64-plan.Total {
			plan.Total = math.MaxInt64
		} else {
			plan.Total += s.Total
		}
	}
	return plan
}
