package httpapi_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendaflow/zapengine/internal/core"
	httpapi "github.com/vendaflow/zapengine/internal/http"
)

func TestParseContactsCSV_CommaDelimited(t *testing.T) {
	in := "name,phone\nMaria,(11) 91234-5678\nJoao,5521998765432\n"
	contacts, err := httpapi.ParseContactsCSV(strings.NewReader(in), "55")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "Maria", contacts[0].Name)
	assert.Equal(t, "5511912345678", contacts[0].Phone)
	assert.Equal(t, "5521998765432", contacts[1].Phone)
}

func TestParseContactsCSV_SemicolonDelimited(t *testing.T) {
	in := "nome;telefone\nMaria;(11) 91234-5678\n"
	contacts, err := httpapi.ParseContactsCSV(strings.NewReader(in), "55")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Maria", contacts[0].Name)
	assert.Equal(t, "5511912345678", contacts[0].Phone)
}

func TestParseContactsCSV_HeaderAliases(t *testing.T) {
	for _, header := range []string{"name,phone", "nome,celular", "Name,WhatsApp", "nome,whatsapp"} {
		in := header + "\nMaria,11912345678\n"
		contacts, err := httpapi.ParseContactsCSV(strings.NewReader(in), "55")
		require.NoError(t, err, "header %q", header)
		require.Len(t, contacts, 1, "header %q", header)
		assert.Equal(t, "5511912345678", contacts[0].Phone)
	}
}

func TestParseContactsCSV_ColumnOrderIrrelevant(t *testing.T) {
	in := "phone,name\n11912345678,Maria\n"
	contacts, err := httpapi.ParseContactsCSV(strings.NewReader(in), "55")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Maria", contacts[0].Name)
}

func TestParseContactsCSV_SniffIgnoresDataRows(t *testing.T) {
	// Data rows carry far more commas than the semicolon header; the
	// delimiter decision must come from the header line alone.
	var b strings.Builder
	b.WriteString("nome;telefone\n")
	for i := 0; i < 20; i++ {
		b.WriteString(fmt.Sprintf("Silva, Maria, Jose, Ana, Clara;119123456%02d\n", i))
	}
	contacts, err := httpapi.ParseContactsCSV(strings.NewReader(b.String()), "55")
	require.NoError(t, err)
	require.Len(t, contacts, 20)
	assert.Equal(t, "Silva, Maria, Jose, Ana, Clara", contacts[0].Name)
	assert.Equal(t, "5511912345600", contacts[0].Phone)
}

func TestParseContactsCSV_DropsUnroutableRows(t *testing.T) {
	in := "name,phone\nOk,11912345678\nShort,123\nEmpty,\n"
	contacts, err := httpapi.ParseContactsCSV(strings.NewReader(in), "55")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Ok", contacts[0].Name)
}

func TestParseContactsCSV_NoPhoneColumn(t *testing.T) {
	_, err := httpapi.ParseContactsCSV(strings.NewReader("name,email\nMaria,m@x.com\n"), "55")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestParseContactsCSV_Empty(t *testing.T) {
	_, err := httpapi.ParseContactsCSV(strings.NewReader(""), "55")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestParseContactsCSV_MissingNameColumn(t *testing.T) {
	contacts, err := httpapi.ParseContactsCSV(strings.NewReader("phone\n11912345678\n"), "55")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Empty(t, contacts[0].Name)
}
