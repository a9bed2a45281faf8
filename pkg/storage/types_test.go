package storage

import (
	"testing"
	"time"
)

func TestValueRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		input any
		want  ValueType
	}{
		{"string", "hello", TypeString},
		{"int", 42, TypeInt},
		{"int64", int64(-7), TypeInt},
		{"float", 3.5, TypeFloat},
		{"bool", true, TypeBool},
		{"bytes", []byte{1, 2}, TypeBytes},
		{"timestamp", now, TypeTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueOf(tt.input)
			if err != nil {
				t.Fatalf("ValueOf failed: %v", err)
			}
			if v.Type != tt.want {
				t.Errorf("Expected type %s, got %s", tt.want, v.Type)
			}
		})
	}

	v, _ := ValueOf(now)
	if got := v.Interface(); !got.(time.Time).Equal(now) {
		t.Errorf("Expected %v, got %v", now, got)
	}
	if IntValue(5).String() != "5" {
		t.Errorf("Unexpected String() %q", IntValue(5).String())
	}
}

func TestValueOf_Unsupported(t *testing.T) {
	if _, err := ValueOf(struct{}{}); err == nil {
		t.Error("Expected error for unsupported type")
	}
	if _, err := ValueOf(^uint64(0)); err == nil {
		t.Error("Expected overflow error")
	}
}

func TestValueEqual(t *testing.T) {
	if !StringValue("a").Equal(StringValue("a")) {
		t.Error("Equal values reported unequal")
	}
	if StringValue("1").Equal(BytesValue([]byte("1"))) {
		t.Error("Values of different types reported equal")
	}
	if _, err := StringValue("x").AsInt(); err == nil {
		t.Error("Expected decode error")
	}
}

func TestEntityKindString(t *testing.T) {
	if KindNode.String() != "node" || KindEdge.String() != "edge" || EntityKind(9).String() != "unknown" {
		t.Error("Unexpected entity kind names")
	}
}
