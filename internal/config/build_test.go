package config

import (
	"context"
	"strings"
	"testing"
)

const buildDoc = `
app: support-desk
providers:
  ollama:
    base_url: http://localhost:11434
    default_model: llama3.2
  mistralrs:
    model_source: mistralai/Mistral-7B-v0.1
    isq: q4k
    device: cpu
    paged_attention: true
    adapter:
      kind: lora
      id: acme/support-lora
    mcp_client:
      config_path: /etc/mistralrs/mcp.json
sessions:
  backend: memory
agents:
  triage:
    description: Routes requests
    instruction: You triage support requests.
    provider: ollama
    sub_agents: [billing]
  billing:
    description: Handles billing
    provider: mistralrs
`

func TestBuildConstructsRuntime(t *testing.T) {
	cfg, err := Parse([]byte(buildDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rt, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	names := rt.Providers.Names()
	if len(names) != 2 || names[0] != "mistralrs" || names[1] != "ollama" {
		t.Errorf("providers = %v", names)
	}
	if rt.Sessions == nil {
		t.Fatal("session backend not built")
	}
	if len(rt.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(rt.Agents))
	}

	triage := rt.Agents["triage"]
	if triage == nil {
		t.Fatal("triage agent missing")
	}
	subs := triage.SubAgents()
	if len(subs) != 1 || subs[0].Name() != "billing" {
		t.Errorf("triage sub-agents = %v", subs)
	}
	if subs[0] != rt.Agents["billing"] {
		t.Error("sub-agent should be the shared billing instance")
	}
	if triage.FindAgent("billing") == nil {
		t.Error("billing should resolve through the tree")
	}
	if rc, ok := rt.RunConfigs["triage"]; !ok || !rc.Streaming {
		t.Errorf("run config = %+v/%v", rc, ok)
	}
}

func TestBuildMistralRsAdapterOptions(t *testing.T) {
	doc := `
providers:
  mistralrs:
    model_source: mistralai/Mistral-7B-v0.1
    adapter:
      kind: prefix
      id: x
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Build(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "adapter") {
		t.Errorf("invalid adapter kind should fail the build, err = %v", err)
	}
}

func TestBuildRejectsUnconfiguredProvider(t *testing.T) {
	doc := `
agents:
  a:
    provider: anthropic
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Build(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "unconfigured provider") {
		t.Errorf("err = %v, want unconfigured-provider error", err)
	}
}

func TestBuildRejectsSubAgentCycle(t *testing.T) {
	doc := `
providers:
  ollama: {}
agents:
  a:
    provider: ollama
    sub_agents: [b]
  b:
    provider: ollama
    sub_agents: [a]
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Build(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("err = %v, want cycle error", err)
	}
}
