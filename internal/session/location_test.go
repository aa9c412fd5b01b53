package session

import (
	"context"
	"testing"

	"github.com/pitabwire/cooldialog/model"
)

var _ model.DialogLocation = (*URLLocation)(nil)

func TestURLLocation_InitState(t *testing.T) {
	defaults := LocationDefaults{Procedure: "MENU", CommandLine: "HOME", Dialect: "en"}

	tests := []struct {
		name    string
		raw     string
		want    model.InitialAction
		wantErr bool
	}{
		{
			name: "empty location starts default procedure",
			raw:  "",
			want: model.InitialAction{Action: model.RequestStart, Procedure: "MENU", CommandLine: "HOME", Dialect: "en"},
		},
		{
			name: "procedure starts it",
			raw:  "/app?procedure=ORDERS&dialect=fr&restart=true",
			want: model.InitialAction{Action: model.RequestStart, Procedure: "ORDERS", Dialect: "fr", Restart: true},
		},
		{
			name: "index alone resumes",
			raw:  "/app?index=abc123",
			want: model.InitialAction{Action: model.RequestCurrent, Index: "abc123", Dialect: "en"},
		},
		{
			name: "explicit get",
			raw:  "/app?action=Get&id=42&procedure=ORDERS&index=abc",
			want: model.InitialAction{Action: model.RequestGet, ID: 42, Procedure: "ORDERS", Index: "abc", Dialect: "en"},
		},
		{
			name: "fork",
			raw:  "/app?action=Fork&procedure=REPORT",
			want: model.InitialAction{Action: model.RequestFork, Procedure: "REPORT", Dialect: "en"},
		},
		{
			name:    "bad id",
			raw:     "/app?action=Get&id=abc",
			wantErr: true,
		},
		{
			name:    "bad restart",
			raw:     "/app?restart=maybe",
			wantErr: true,
		},
		{
			name:    "unsupported action",
			raw:     "/app?action=Help",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseLocation(tt.raw, defaults)
			if err != nil {
				t.Fatalf("ParseLocation error: %v", err)
			}
			got, err := loc.InitState(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("InitState = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("InitState error: %v", err)
			}
			if got.Action != tt.want.Action || got.Procedure != tt.want.Procedure ||
				got.ID != tt.want.ID || got.Dialect != tt.want.Dialect ||
				got.Restart != tt.want.Restart || got.CommandLine != tt.want.CommandLine ||
				got.Index != tt.want.Index {
				t.Errorf("InitState = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestURLLocation_ExtraParamsPassedThrough(t *testing.T) {
	loc, _ := ParseLocation("/app?procedure=ORDERS&customer=C1&tag=a&tag=b&_ts=1", LocationDefaults{})

	got, err := loc.InitState(context.Background())
	if err != nil {
		t.Fatalf("InitState error: %v", err)
	}
	if got.Params["customer"] != "C1" {
		t.Errorf("customer = %v, want C1", got.Params["customer"])
	}
	tags, ok := got.Params["tag"].([]string)
	if !ok || len(tags) != 2 {
		t.Errorf("tag = %v, want two values", got.Params["tag"])
	}
	if _, ok := got.Params["_ts"]; ok {
		t.Error("underscore parameters should be ignored")
	}
	if _, ok := got.Params["procedure"]; ok {
		t.Error("reserved parameters should not be passed through")
	}
}

func TestURLLocation_SetIndex(t *testing.T) {
	loc, _ := ParseLocation("/app?procedure=ORDERS&restart=1&dialect=de", LocationDefaults{})

	loc.SetIndex("idx-7")
	if loc.Index() != "idx-7" {
		t.Errorf("Index = %q, want idx-7", loc.Index())
	}

	got, err := loc.InitState(context.Background())
	if err != nil {
		t.Fatalf("InitState error: %v", err)
	}
	if got.Action != model.RequestCurrent {
		t.Errorf("after SetIndex action = %q, want Current", got.Action)
	}
	if got.Dialect != "de" {
		t.Errorf("dialect = %q, want it kept", got.Dialect)
	}

	loc.SetIndex("")
	if loc.Index() != "" {
		t.Errorf("Index = %q, want cleared", loc.Index())
	}
}

func TestParseLocation_invalid(t *testing.T) {
	if _, err := ParseLocation("://bad", LocationDefaults{}); err == nil {
		t.Error("ParseLocation should reject an invalid URL")
	}
}
