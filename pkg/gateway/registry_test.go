package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/execore/pkg/models"
)

type stubGateway struct {
	name models.ExchangeName
}

func (s *stubGateway) Name() models.ExchangeName                          { return s.name }
func (s *stubGateway) API(models.MarketType) ExchangeAPI                  { return nil }
func (s *stubGateway) MarketStream(models.MarketType) ExchangeStream      { return nil }
func (s *stubGateway) AccountStream(models.MarketType, models.APICredentials) ExchangeStream {
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	gw := &stubGateway{name: "test-venue"}
	Register(gw)

	got, err := Lookup("test-venue")
	require.NoError(t, err)
	assert.Same(t, gw, got)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("nope")
	assert.ErrorIs(t, err, models.ErrUnknownExchange)
}

func TestRegisterReplaces(t *testing.T) {
	first := &stubGateway{name: "dup"}
	second := &stubGateway{name: "dup"}
	Register(first)
	Register(second)

	got, err := Lookup("dup")
	require.NoError(t, err)
	assert.Same(t, second, got)
}
