package server

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxIDRule(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("taxid", taxIDRule))

	type payload struct {
		TaxID string `validate:"taxid"`
	}

	t.Run("Accepts bare and punctuated CPF", func(t *testing.T) {
		assert.NoError(t, v.Struct(payload{TaxID: "12345678900"}))
		assert.NoError(t, v.Struct(payload{TaxID: "123.456.789-00"}))
	})

	t.Run("Rejects wrong length and foreign characters", func(t *testing.T) {
		assert.Error(t, v.Struct(payload{TaxID: "1234567890"}))
		assert.Error(t, v.Struct(payload{TaxID: "123456789001"}))
		assert.Error(t, v.Struct(payload{TaxID: "12345abc900"}))
		assert.Error(t, v.Struct(payload{TaxID: ""}))
	})
}
