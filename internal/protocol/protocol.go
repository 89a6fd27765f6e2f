// Package protocol implements the bank node's line-based wire format: it
// parses inbound lines into typed commands and renders results back into
// single response lines.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/bank-node/internal/bankerr"
	"github.com/example/bank-node/internal/ledger"
)

// Kind is the closed set of commands a node understands.
type Kind uint8

const (
	BankCode Kind = iota + 1
	AccountCreate
	AccountDeposit
	AccountWithdraw
	AccountBalance
	AccountRemove
	BankAmount
	BankNumber
	RobberyPlan
)

// ErrorCode prefixes every error response.
const ErrorCode = "ER"

var kindsByCode = map[string]Kind{
	"BC": BankCode,
	"AC": AccountCreate,
	"AD": AccountDeposit,
	"AW": AccountWithdraw,
	"AB": AccountBalance,
	"AR": AccountRemove,
	"BA": BankAmount,
	"BN": BankNumber,
	"RP": RobberyPlan,
}

// String returns the two-letter wire code.
func (k Kind) String() string {
	switch k {
	case BankCode:
		return "BC"
	case AccountCreate:
		return "AC"
	case AccountDeposit:
		return "AD"
	case AccountWithdraw:
		return "AW"
	case AccountBalance:
		return "AB"
	case AccountRemove:
		return "AR"
	case BankAmount:
		return "BA"
	case BankNumber:
		return "BN"
	case RobberyPlan:
		return "RP"
	default:
		return "??"
	}
}

// arity is the number of arguments after the code.
func (k Kind) arity() int {
	switch k {
	case AccountDeposit, AccountWithdraw:
		return 2
	case AccountBalance, AccountRemove, RobberyPlan:
		return 1
	default:
		return 0
	}
}

// TakesAccount reports whether the first argument is an account reference.
func (k Kind) TakesAccount() bool {
	switch k {
	case AccountDeposit, AccountWithdraw, AccountBalance, AccountRemove:
		return true
	}
	return false
}

var (
	accountRefPattern = regexp.MustCompile(`^(\d{5})/(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})$`)
	addressPattern    = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	amountPattern     = regexp.MustCompile(`^\d+$`)
)

// AccountRef identifies an account and the node that owns it.
type AccountRef struct {
	Number  int
	Address string
}

// String renders the wire form number/address.
func (r AccountRef) String() string {
	return fmt.Sprintf("%d/%s", r.Number, r.Address)
}

// ValidAddress reports whether s has the dotted-quad shape used for node
// addresses. Octet ranges are not checked.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ParseAccountRef parses the number/address form.
func ParseAccountRef(s string) (AccountRef, error) {
	m := accountRefPattern.FindStringSubmatch(s)
	if m == nil {
		return AccountRef{}, bankerr.New(bankerr.InvalidAccountFormat, s)
	}
	number, err := strconv.Atoi(m[1])
	if err != nil || number < ledger.MinNumber || number > ledger.MaxNumber {
		return AccountRef{}, bankerr.New(bankerr.InvalidAccountFormat, s)
	}
	return AccountRef{Number: number, Address: m[2]}, nil
}

// ParseAmount parses an unsigned decimal amount in [0, maxInt64].
func ParseAmount(s string) (int64, error) {
	if !amountPattern.MatchString(s) {
		return 0, bankerr.New(bankerr.InvalidAmountFormat, s)
	}
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, bankerr.New(bankerr.InvalidAmountFormat, s)
	}
	return amount, nil
}

// Command is one parsed request line.
type Command struct {
	Kind Kind
	// Line is the request exactly as received, minus the terminator. It is
	// what gets forwarded when the account lives on another node.
	Line    string
	Args    []string
	Account AccountRef
	Amount  int64
}

// Parse turns a line into a Command. The code is matched case-insensitively.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, bankerr.New(bankerr.MalformedCommand, "empty line")
	}

	kind, ok := kindsByCode[strings.ToUpper(fields[0])]
	if !ok {
		return Command{}, bankerr.New(bankerr.UnknownCommand, fields[0])
	}

	cmd := Command{Kind: kind, Line: line, Args: fields[1:]}
	if len(cmd.Args) != kind.arity() {
		return Command{}, bankerr.New(bankerr.MalformedCommand,
			fmt.Sprintf("%s takes %d arguments, got %d", kind, kind.arity(), len(cmd.Args)))
	}

	amountArg := -1
	switch {
	case kind.TakesAccount():
		ref, err := ParseAccountRef(cmd.Args[0])
		if err != nil {
			return Command{}, err
		}
		cmd.Account = ref
		if kind.arity() == 2 {
			amountArg = 1
		}
	case kind == RobberyPlan:
		amountArg = 0
	}

	if amountArg >= 0 {
		amount, err := ParseAmount(cmd.Args[amountArg])
		if err != nil {
			return Command{}, err
		}
		cmd.Amount = amount
	}

	return cmd, nil
}

// OK renders a success line: the code followed by the payload fields.
func OK(kind Kind, payload ...string) string {
	if len(payload) == 0 {
		return kind.String()
	}
	return kind.String() + " " + strings.Join(payload, " ")
}

// Err renders err as an error line. Only the kind's message reaches the wire.
func Err(err error) string {
	return ErrorCode + " " + bankerr.KindOf(err).Message()
}
