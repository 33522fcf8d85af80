package plcheck_test

import (
	"strings"
	"testing"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/plcheck/plcheck"
)

func TestLexer_Symbols(t *testing.T) {
	t.Parallel()

	symbols := plcheck.Lexer().Symbols()

	expected := []string{
		"EOF", "Comment", "Whitespace", "Ident", "QuotedIdent", "Keyword",
		"Number", "String", "DollarString", "Param", "Op",
		"Dot", "Comma", "Semi", "LParen", "RParen", "LBracket", "RBracket",
	}

	for _, name := range expected {
		if _, ok := symbols[name]; !ok {
			t.Errorf("missing symbol: %s", name)
		}
	}
}

type tokenExpect struct {
	typ string
	val string
}

func lexTokens(t *testing.T, input string) []tokenExpect {
	t.Helper()

	def := plcheck.Lexer()
	symbols := def.Symbols()

	symbolNames := make(map[lexer.TokenType]string)
	for name, typ := range symbols {
		symbolNames[typ] = name
	}

	lex, err := def.Lex("", strings.NewReader(input))
	require.NoError(t, err)

	var tokens []tokenExpect

	for {
		tok, err := lex.Next()
		require.NoError(t, err)

		if tok.EOF() {
			break
		}

		if symbolNames[tok.Type] == "Whitespace" {
			continue
		}

		tokens = append(tokens, tokenExpect{
			typ: symbolNames[tok.Type],
			val: tok.Value,
		})
	}

	return tokens
}

func assertTokens(t *testing.T, expected, got []tokenExpect) {
	t.Helper()

	if diff := cmp.Diff(expected, got, cmp.AllowUnexported(tokenExpect{})); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}
}

func TestLexer_Identifiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected []tokenExpect
	}{
		{"foo", []tokenExpect{{"Ident", "foo"}}},
		{"Foo_Bar", []tokenExpect{{"Ident", "foo_bar"}}},
		{"v1", []tokenExpect{{"Ident", "v1"}}},
		{"_private", []tokenExpect{{"Ident", "_private"}}},
		// '$' continues an identifier but never starts a quote tag.
		{"v$x", []tokenExpect{{"Ident", "v$x"}}},
		{`"MixedCase"`, []tokenExpect{{"QuotedIdent", "MixedCase"}}},
		{`"with""quote"`, []tokenExpect{{"QuotedIdent", `with"quote`}}},
		{"a.b", []tokenExpect{{"Ident", "a"}, {"Dot", "."}, {"Ident", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assertTokens(t, tt.expected, lexTokens(t, tt.input))
		})
	}
}

func TestLexer_Keywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected []tokenExpect
	}{
		{"begin", []tokenExpect{{"Keyword", "BEGIN"}}},
		{"BEGIN", []tokenExpect{{"Keyword", "BEGIN"}}},
		{"End", []tokenExpect{{"Keyword", "END"}}},
		// Reserved words quoted are plain identifiers.
		{`"begin"`, []tokenExpect{{"QuotedIdent", "begin"}}},
		// Words the parser matches by value stay identifiers.
		{"next", []tokenExpect{{"Ident", "next"}}},
		{"notice", []tokenExpect{{"Ident", "notice"}}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assertTokens(t, tt.expected, lexTokens(t, tt.input))
		})
	}
}

func TestLexer_Numbers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected []tokenExpect
	}{
		{"123", []tokenExpect{{"Number", "123"}}},
		{"123.456", []tokenExpect{{"Number", "123.456"}}},
		{".5", []tokenExpect{{"Number", ".5"}}},
		{"1e10", []tokenExpect{{"Number", "1e10"}}},
		{"1.5e-3", []tokenExpect{{"Number", "1.5e-3"}}},
		// ".." must not be swallowed by a preceding integer.
		{"1..10", []tokenExpect{{"Number", "1"}, {"Op", ".."}, {"Number", "10"}}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assertTokens(t, tt.expected, lexTokens(t, tt.input))
		})
	}
}

func TestLexer_Strings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected []tokenExpect
	}{
		{"simple", "'hello'", []tokenExpect{{"String", "hello"}}},
		{"empty", "''", []tokenExpect{{"String", ""}}},
		{"escaped quote", "'it''s'", []tokenExpect{{"String", "it's"}}},
		{"dollar quoted", "$$body$$", []tokenExpect{{"DollarString", "body"}}},
		{"tagged dollar", "$fn$select 1;$fn$", []tokenExpect{{"DollarString", "select 1;"}}},
		{"dollar with inner dollar", "$tag$a $$ b$tag$", []tokenExpect{{"DollarString", "a $$ b"}}},
		{"dollar after keyword", "AS $$x$$;", []tokenExpect{
			{"Keyword", "AS"}, {"DollarString", "x"}, {"Semi", ";"},
		}},
		{"multiline dollar body", "$$\nBEGIN\n  RETURN 1;\nEND;\n$$", []tokenExpect{
			{"DollarString", "\nBEGIN\n  RETURN 1;\nEND;\n"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assertTokens(t, tt.expected, lexTokens(t, tt.input))
		})
	}
}

func TestLexer_Params(t *testing.T) {
	t.Parallel()

	assertTokens(t,
		[]tokenExpect{{"Param", "1"}, {"Op", "+"}, {"Param", "2"}},
		lexTokens(t, "$1 + $2"))
}

func TestLexer_Operators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected []tokenExpect
	}{
		{":=", []tokenExpect{{"Op", ":="}}},
		{"::", []tokenExpect{{"Op", "::"}}},
		{"||", []tokenExpect{{"Op", "||"}}},
		{"<>", []tokenExpect{{"Op", "<>"}}},
		{"<=", []tokenExpect{{"Op", "<="}}},
		{"<<", []tokenExpect{{"Op", "<<"}}},
		{">>", []tokenExpect{{"Op", ">>"}}},
		{"=>", []tokenExpect{{"Op", "=>"}}},
		{"a=b", []tokenExpect{{"Ident", "a"}, {"Op", "="}, {"Ident", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assertTokens(t, tt.expected, lexTokens(t, tt.input))
		})
	}
}

func TestLexer_Comments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected []tokenExpect
	}{
		{"line", "a -- trailing\nb", []tokenExpect{
			{"Ident", "a"}, {"Comment", "-- trailing"}, {"Ident", "b"},
		}},
		{"block", "a /* x */ b", []tokenExpect{
			{"Ident", "a"}, {"Comment", "/* x */"}, {"Ident", "b"},
		}},
		{"nested block", "/* outer /* inner */ still */ a", []tokenExpect{
			{"Comment", "/* outer /* inner */ still */"}, {"Ident", "a"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assertTokens(t, tt.expected, lexTokens(t, tt.input))
		})
	}
}

func TestLexer_Positions(t *testing.T) {
	t.Parallel()

	def := plcheck.Lexer()

	lex, err := def.Lex("", strings.NewReader("a\n  b"))
	require.NoError(t, err)

	var positions []lexer.Position

	for {
		tok, err := lex.Next()
		require.NoError(t, err)

		if tok.EOF() {
			break
		}

		if tok.Type == plcheck.TokenWhitespace {
			continue
		}

		positions = append(positions, tok.Pos)
	}

	require.Len(t, positions, 2)
	require.Equal(t, 1, positions[0].Line)
	require.Equal(t, 1, positions[0].Column)
	require.Equal(t, 2, positions[1].Line)
	require.Equal(t, 3, positions[1].Column)
}

func TestLexer_UnterminatedString(t *testing.T) {
	t.Parallel()

	def := plcheck.Lexer()

	lex, err := def.Lex("", strings.NewReader("'oops"))
	require.NoError(t, err)

	_, err = lex.Next()
	require.Error(t, err)
}
