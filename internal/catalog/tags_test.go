package catalog

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseTagsNormalizesAndDeduplicates(t *testing.T) {
	tags := ParseTags([]string{"#Novel, novel  #SF", "ミステリー、#ミステリー"})
	expected := []string{"novel", "sf", "ミステリー"}
	if !reflect.DeepEqual(tags, expected) {
		t.Fatalf("expected %v, got %v", expected, tags)
	}
}

func TestParseTagsCapsCountAndLength(t *testing.T) {
	var raw []string
	for index := 0; index < 15; index++ {
		raw = append(raw, strings.Repeat(string(rune('a'+index)), 40))
	}
	tags := ParseTags(raw)
	if len(tags) != maxTagsPerProduct {
		t.Fatalf("expected %d tags, got %d", maxTagsPerProduct, len(tags))
	}
	for _, tag := range tags {
		if len([]rune(tag)) != maxTagLength {
			t.Fatalf("expected tags truncated to %d runes, got %q", maxTagLength, tag)
		}
	}
}

func TestNormalizeTagHandlesFullWidthHash(t *testing.T) {
	if tag := NormalizeTag("＃Kafka"); tag != "kafka" {
		t.Fatalf("expected kafka, got %q", tag)
	}
	if tag := NormalizeTag("##"); tag != "" {
		t.Fatalf("expected empty tag, got %q", tag)
	}
}
