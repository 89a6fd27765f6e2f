package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-node/internal/bankerr"
)

func TestParseCodes(t *testing.T) {
	tests := []struct {
		line string
		kind Kind
	}{
		{"BC", BankCode},
		{"bc", BankCode},
		{"AC", AccountCreate},
		{"Ba", BankAmount},
		{"BN", BankNumber},
		{"AD 10000/10.0.0.1 50", AccountDeposit},
		{"AW 10000/10.0.0.1 50", AccountWithdraw},
		{"ab 10000/10.0.0.1", AccountBalance},
		{"AR 10000/10.0.0.1", AccountRemove},
		{"RP 1000", RobberyPlan},
		{"  BN  ", BankNumber},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.line, cmd.Line)
		})
	}
}

func TestParseArguments(t *testing.T) {
	cmd, err := Parse("AD 12345/192.168.1.20 500")
	require.NoError(t, err)
	assert.Equal(t, AccountRef{Number: 12345, Address: "192.168.1.20"}, cmd.Account)
	assert.Equal(t, int64(500), cmd.Amount)

	cmd, err = Parse("RP 9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), cmd.Amount)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		line string
		kind bankerr.Kind
	}{
		{"", bankerr.MalformedCommand},
		{"XX", bankerr.UnknownCommand},
		{"HELLO world", bankerr.UnknownCommand},
		{"BC extra", bankerr.MalformedCommand},
		{"AD 10000/10.0.0.1", bankerr.MalformedCommand},
		{"AB", bankerr.MalformedCommand},
		{"RP", bankerr.MalformedCommand},
		{"AB 1000/10.0.0.1", bankerr.InvalidAccountFormat},
		{"AB 100000/10.0.0.1", bankerr.InvalidAccountFormat},
		{"AB 01234/10.0.0.1", bankerr.InvalidAccountFormat},
		{"AB 12345/10.0.0", bankerr.InvalidAccountFormat},
		{"AB 12345/host.example", bankerr.InvalidAccountFormat},
		{"AB 12345/1234.0.0.1", bankerr.InvalidAccountFormat},
		{"AB 12345-10.0.0.1", bankerr.InvalidAccountFormat},
		{"AD x/10.0.0.1 5", bankerr.InvalidAccountFormat},
		{"AD 12345/10.0.0.1 -5", bankerr.InvalidAmountFormat},
		{"AD 12345/10.0.0.1 +5", bankerr.InvalidAmountFormat},
		{"AD 12345/10.0.0.1 5.0", bankerr.InvalidAmountFormat},
		{"AW 12345/10.0.0.1 9223372036854775808", bankerr.InvalidAmountFormat},
		{"RP lots", bankerr.InvalidAmountFormat},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := Parse(tt.line)
			require.Error(t, err)
			assert.Equal(t, tt.kind, bankerr.KindOf(err))
		})
	}
}

func TestSyntacticAddressCheckOnly(t *testing.T) {
	ref, err := ParseAccountRef("10000/999.999.999.999")
	require.NoError(t, err)
	assert.Equal(t, "999.999.999.999", ref.Address)
	assert.Equal(t, "10000/999.999.999.999", ref.String())

	assert.True(t, ValidAddress("127.0.0.1"))
	assert.False(t, ValidAddress("localhost"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "AD", OK(AccountDeposit))
	assert.Equal(t, "AB 500", OK(AccountBalance, "500"))
	assert.Equal(t, "BC 10.0.0.1", OK(BankCode, "10.0.0.1"))

	assert.Equal(t, "ER Insufficient funds.", Err(bankerr.New(bankerr.InsufficientFunds, "secret detail")))
	assert.Equal(t, "ER Internal error, try again later.", Err(errors.New("pq: relation does not exist")))
}
