package pyro

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	l := NewLexer("test", []byte(src))
	var toks []Token
	for {
		tok := l.Next()
		require.NotEqual(t, TokError, tok.Kind, "lexer error: %s", tok.Lexeme)
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			break
		}
	}
	return toks
}

func TestLexerPunctuationAndOperators(t *testing.T) {
	toks := lexAll(t, "+ - * / // ** % == != <= >= << >> && || ?? ->")
	wantKinds := []TokenKind{
		TokPlus, TokMinus, TokStar, TokSlash, TokSlashSlash, TokStarStar, TokPercent,
		TokEqualEqual, TokBangEqual, TokLessEqual, TokGreaterEqual, TokLessLess, TokGreaterGreater,
		TokAmpAmp, TokBarBar, TokQuestionQuestion, TokArrow, TokEOF,
	}
	require.Len(t, toks, len(wantKinds))
	for i, want := range wantKinds {
		require.Equalf(t, want, toks[i].Kind, "token %d", i)
	}
}

func TestLexerKeywords(t *testing.T) {
	toks := lexAll(t, "var let def class if else while for in with try")
	wantKinds := []TokenKind{
		TokVar, TokLet, TokDef, TokClass, TokIf, TokElse, TokWhile, TokFor, TokIn, TokWith, TokTry, TokEOF,
	}
	require.Len(t, toks, len(wantKinds))
	for i, want := range wantKinds {
		require.Equalf(t, want, toks[i].Kind, "token %d", i)
	}
}

func TestLexerIntegerLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"123", 123},
		{"1_000_000", 1000000},
		{"0x1F", 31},
		{"0o17", 15},
		{"0b1010", 10},
	}
	for _, tt := range tests {
		toks := lexAll(t, tt.src)
		require.Equal(t, TokInt, toks[0].Kind)
		require.Equal(t, tt.want, toks[0].IntVal)
	}
}

func TestLexerFloatLiteral(t *testing.T) {
	toks := lexAll(t, "3.14")
	require.Equal(t, TokFloat, toks[0].Kind)
	require.InDelta(t, 3.14, toks[0].FltVal, 1e-9)
}

func TestLexerSimpleString(t *testing.T) {
	toks := lexAll(t, `"hello world"`)
	require.Equal(t, TokString, toks[0].Kind)
	require.Equal(t, "hello world", toks[0].StrVal)
}

func TestLexerStringEscapes(t *testing.T) {
	toks := lexAll(t, `"a\nb\tc\"d"`)
	require.Equal(t, TokString, toks[0].Kind)
	require.Equal(t, "a\nb\tc\"d", toks[0].StrVal)
}

func TestLexerInterpolatedString(t *testing.T) {
	toks := lexAll(t, `"x = ${x}!"`)
	require.Equal(t, TokStringFragment, toks[0].Kind)
	require.Equal(t, "x = ", toks[0].StrVal)
	require.Equal(t, TokIdent, toks[1].Kind)
	require.Equal(t, "x", toks[1].Lexeme)
	require.Equal(t, TokStringFragmentFinal, toks[2].Kind)
	require.Equal(t, "!", toks[2].StrVal)
}

func TestLexerInterpolatedStringWithFormatSpec(t *testing.T) {
	toks := lexAll(t, `"${n;.2}"`)
	require.Equal(t, TokStringFragment, toks[0].Kind)
	require.Equal(t, "", toks[0].StrVal)
	require.Equal(t, TokIdent, toks[1].Kind)
	require.Equal(t, TokFormatSpec, toks[2].Kind)
	require.Equal(t, ".2", toks[2].StrVal)
	require.Equal(t, TokStringFragmentFinal, toks[3].Kind)
}

func TestLexerRuneLiteral(t *testing.T) {
	toks := lexAll(t, `'a' '\n'`)
	require.Equal(t, TokRune, toks[0].Kind)
	require.Equal(t, 'a', toks[0].RunVal)
	require.Equal(t, TokRune, toks[1].Kind)
	require.Equal(t, '\n', toks[1].RunVal)
}

func TestLexerDollarPrefixedIdentifiers(t *testing.T) {
	toks := lexAll(t, "$init $enter $exit $main $test_foo $op_binary_plus")
	for i, want := range []string{"$init", "$enter", "$exit", "$main", "$test_foo", "$op_binary_plus"} {
		require.Equal(t, TokIdent, toks[i].Kind)
		require.Equal(t, want, toks[i].Lexeme)
	}
}

func TestLexerSkipsCommentsAndWhitespace(t *testing.T) {
	toks := lexAll(t, "# comment\n  123 # trailing\n")
	require.Equal(t, TokInt, toks[0].Kind)
	require.Equal(t, TokEOF, toks[1].Kind)
}
