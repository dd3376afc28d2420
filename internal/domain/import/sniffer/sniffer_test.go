package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestColumns(t *testing.T) {
	t.Run("portuguese headers", func(t *testing.T) {
		got := SuggestColumns([]string{"Data", "Descrição", "Valor", "Categoria"})

		assert.Equal(t, "Data", got.Date)
		assert.Equal(t, "Descrição", got.Description)
		assert.Equal(t, "Valor", got.Amount)
		assert.Equal(t, "Categoria", got.Envelope)
	})

	t.Run("english headers", func(t *testing.T) {
		got := SuggestColumns([]string{"Date", "Description", "Amount", "Envelope"})

		assert.Equal(t, "Date", got.Date)
		assert.Equal(t, "Description", got.Description)
		assert.Equal(t, "Amount", got.Amount)
		assert.Equal(t, "Envelope", got.Envelope)
	})

	t.Run("case-insensitive substrings", func(t *testing.T) {
		got := SuggestColumns([]string{"DATA MOV.", "DESC. OPERACAO", "VALOR (R$)", "CATEG."})

		assert.Equal(t, "DATA MOV.", got.Date)
		assert.Equal(t, "DESC. OPERACAO", got.Description)
		assert.Equal(t, "VALOR (R$)", got.Amount)
		assert.Equal(t, "CATEG.", got.Envelope)
	})

	t.Run("never fabricates", func(t *testing.T) {
		got := SuggestColumns([]string{"Foo", "Bar"})

		assert.Empty(t, got.Date)
		assert.Empty(t, got.Description)
		assert.Empty(t, got.Amount)
		assert.Empty(t, got.Envelope)
	})

	t.Run("first matching header wins", func(t *testing.T) {
		got := SuggestColumns([]string{"Data", "Data Valor"})

		assert.Equal(t, "Data", got.Date)
	})
}

func TestResolveMapping(t *testing.T) {
	headers := []string{"DATA", "DESC", "VALOR", "CAT"}

	t.Run("explicit mapping wins", func(t *testing.T) {
		user := Mapping{Date: "DATA", Description: "DESC", Amount: "VALOR", Envelope: "CAT"}

		got, err := ResolveMapping(headers, user)
		require.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("auto-detection fills gaps", func(t *testing.T) {
		got, err := ResolveMapping(headers, Mapping{Envelope: "CAT"})
		require.NoError(t, err)

		assert.Equal(t, "DATA", got.Date)
		assert.Equal(t, "DESC", got.Description)
		assert.Equal(t, "VALOR", got.Amount)
		assert.Equal(t, "CAT", got.Envelope)
	})

	t.Run("missing required fields enumerated", func(t *testing.T) {
		_, err := ResolveMapping([]string{"Foo", "Bar"}, Mapping{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "date")
		assert.Contains(t, err.Error(), "description")
		assert.Contains(t, err.Error(), "amount")
	})

	t.Run("unknown user header rejected", func(t *testing.T) {
		_, err := ResolveMapping(headers, Mapping{Date: "WHEN", Description: "DESC", Amount: "VALOR"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "WHEN")
	})

	t.Run("envelope optional", func(t *testing.T) {
		got, err := ResolveMapping([]string{"Data", "Descrição", "Valor"}, Mapping{})
		require.NoError(t, err)
		assert.Empty(t, got.Envelope)
	})
}

func TestMapping_Resolve(t *testing.T) {
	headers := []string{"DATA", "DESC", "VALOR", "CAT"}
	mapping := Mapping{Date: "DATA", Description: "DESC", Amount: "VALOR", Envelope: "CAT"}

	idx, err := mapping.Resolve(headers)
	require.NoError(t, err)

	assert.Equal(t, 0, idx.Date)
	assert.Equal(t, 1, idx.Description)
	assert.Equal(t, 2, idx.Amount)
	assert.Equal(t, 3, idx.Envelope)

	t.Run("unmapped envelope is -1", func(t *testing.T) {
		idx, err := Mapping{Date: "DATA", Description: "DESC", Amount: "VALOR"}.Resolve(headers)
		require.NoError(t, err)
		assert.Equal(t, -1, idx.Envelope)
	})
}
