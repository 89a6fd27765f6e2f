// Package dispatch turns one request line into one reply line.
package dispatch

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/example/bank-node/internal/bankerr"
	"github.com/example/bank-node/internal/metrics"
	"github.com/example/bank-node/internal/node"
	"github.com/example/bank-node/internal/protocol"
	"github.com/example/bank-node/internal/robbery"
)

// invalidCode labels lines that did not parse.
const invalidCode = "invalid"

// Ledger is the account book of this node.
type Ledger interface {
	CreateAccount(ctx context.Context) (int, error)
	Deposit(ctx context.Context, number int, amount int64) error
	Withdraw(ctx context.Context, number int, amount int64) error
	GetBalance(ctx context.Context, number int) (int64, error)
	Remove(ctx context.Context, number int) error
	TotalAmount(ctx context.Context) (int64, error)
	AccountCount(ctx context.Context) (int, error)
}

// Forwarder relays a line to another node.
type Forwarder interface {
	Forward(ctx context.Context, address string, port int, line string) (string, error)
}

// Planner computes robbery plans.
type Planner interface {
	Plan(ctx context.Context, target int64) (robbery.Plan, error)
}

// Dispatcher executes commands against the local ledger or forwards them
// to the node that owns the account.
type Dispatcher struct {
	identity  node.Identity
	ledger    Ledger
	forwarder Forwarder
	planner   Planner
	logger    *logrus.Entry
}

// New creates a Dispatcher.
func New(identity node.Identity, ledger Ledger, forwarder Forwarder, planner Planner, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		identity:  identity,
		ledger:    ledger,
		forwarder: forwarder,
		planner:   planner,
		logger:    logger,
	}
}

// Handle answers line. It never fails: problems become an error line.
func (d *Dispatcher) Handle(ctx context.Context, line string) string {
	cmd, err := protocol.Parse(line)
	if err != nil {
		metrics.Commands.WithLabelValues(invalidCode, metrics.OutcomeError).Inc()
		return d.fail(line, err)
	}

	if cmd.Kind.TakesAccount() && !d.identity.Owns(cmd.Account.Address) {
		reply, err := d.forwarder.Forward(ctx, cmd.Account.Address, d.identity.Port, cmd.Line)
		if err != nil {
			metrics.Commands.WithLabelValues(cmd.Kind.String(), metrics.OutcomeError).Inc()
			return d.fail(line, err)
		}
		metrics.Commands.WithLabelValues(cmd.Kind.String(), metrics.OutcomeForwarded).Inc()
		return reply
	}

	reply, err := d.execute(ctx, cmd)
	if err != nil {
		metrics.Commands.WithLabelValues(cmd.Kind.String(), metrics.OutcomeError).Inc()
		return d.fail(line, err)
	}
	metrics.Commands.WithLabelValues(cmd.Kind.String(), metrics.OutcomeLocal).Inc()
	return reply
}

func (d *Dispatcher) execute(ctx context.Context, cmd protocol.Command) (string, error) {
	number := cmd.Account.Number

	switch cmd.Kind {
	case protocol.BankCode:
		return protocol.OK(cmd.Kind, d.identity.Address), nil

	case protocol.AccountCreate:
		n, err := d.ledger.CreateAccount(ctx)
		if err != nil {
			return "", err
		}
		ref := protocol.AccountRef{Number: n, Address: d.identity.Address}
		return protocol.OK(cmd.Kind, ref.String()), nil

	case protocol.AccountDeposit:
		if err := d.ledger.Deposit(ctx, number, cmd.Amount); err != nil {
			return "", err
		}
		return protocol.OK(cmd.Kind), nil

	case protocol.AccountWithdraw:
		if err := d.ledger.Withdraw(ctx, number, cmd.Amount); err != nil {
			return "", err
		}
		return protocol.OK(cmd.Kind), nil

	case protocol.AccountBalance:
		balance, err := d.ledger.GetBalance(ctx, number)
		if err != nil {
			return "", err
		}
		return protocol.OK(cmd.Kind, strconv.FormatInt(balance, 10)), nil

	case protocol.AccountRemove:
		if err := d.ledger.Remove(ctx, number); err != nil {
			return "", err
		}
		return protocol.OK(cmd.Kind), nil

	case protocol.BankAmount:
		total, err := d.ledger.TotalAmount(ctx)
		if err != nil {
			return "", err
		}
		return protocol.OK(cmd.Kind, strconv.FormatInt(total, 10)), nil

	case protocol.BankNumber:
		count, err := d.ledger.AccountCount(ctx)
		if err != nil {
			return "", err
		}
		return protocol.OK(cmd.Kind, strconv.Itoa(count)), nil

	case protocol.RobberyPlan:
		plan, err := d.planner.Plan(ctx, cmd.Amount)
		if err != nil {
			return "", bankerr.Wrap(bankerr.Internal, err, "robbery plan")
		}
		return protocol.OK(cmd.Kind, plan.String()), nil
	}

	return "", bankerr.New(bankerr.UnknownCommand, cmd.Kind.String())
}

// fail logs err and renders it for the client.
func (d *Dispatcher) fail(line string, err error) string {
	entry := d.logger.WithField("line", line).WithError(err)
	switch bankerr.KindOf(err) {
	case bankerr.Internal:
		entry.Error("command failed")
	case bankerr.ProxyUnavailable:
		entry.Warn("command failed")
	default:
		entry.Debug("command rejected")
	}
	return protocol.Err(err)
}
