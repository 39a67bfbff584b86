package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML overlay named by VOICE_CONFIG_FILE. It only
// carries non-secret defaults.
type fileConfig struct {
	Voice struct {
		MaxConcurrentCalls int     `yaml:"max_concurrent_calls"`
		RecordingEnabled   bool    `yaml:"recording_enabled"`
		Greeting           string  `yaml:"greeting"`
		DefaultTenantID    string  `yaml:"default_tenant_id"`
		TenantCallLimit    int     `yaml:"tenant_call_limit"`
		BargeInThreshold   float64 `yaml:"barge_in_threshold"`
		TTSVoice           string  `yaml:"tts_voice"`
		Language           string  `yaml:"language"`
	} `yaml:"voice"`
	LLM struct {
		Model        string `yaml:"model"`
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"llm"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading VOICE_CONFIG_FILE: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing VOICE_CONFIG_FILE: %w", err)
	}

	c.Voice.MaxConcurrentCalls = f.Voice.MaxConcurrentCalls
	c.Voice.RecordingEnabled = f.Voice.RecordingEnabled
	c.Voice.Greeting = f.Voice.Greeting
	c.Voice.DefaultTenantID = f.Voice.DefaultTenantID
	c.Voice.TenantCallLimit = f.Voice.TenantCallLimit
	c.Voice.BargeInThreshold = f.Voice.BargeInThreshold
	c.Voice.TTSVoice = f.Voice.TTSVoice
	c.Voice.Language = f.Voice.Language
	c.LLM.Model = f.LLM.Model
	c.LLM.SystemPrompt = f.LLM.SystemPrompt
	c.MQTT.Broker = f.MQTT.Broker
	c.MQTT.ClientID = f.MQTT.ClientID
	c.MQTT.TopicPrefix = f.MQTT.TopicPrefix
	return nil
}
