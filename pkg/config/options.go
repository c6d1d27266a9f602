package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/policyforge/pkg/backup"
	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/enforce"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/executor"
	"github.com/openfroyo/policyforge/pkg/lock"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/reconcile"
	"github.com/openfroyo/policyforge/pkg/remediation"
	"github.com/openfroyo/policyforge/pkg/stores"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	sshtransport "github.com/openfroyo/policyforge/pkg/transports/ssh"
)

// ValidationOptions returns policy validation options for policyType.
// An empty policyType skips the type-specific rules.
func (c *Config) ValidationOptions(policyType string) (policy.Options, error) {
	frameworks, err := policy.ParseFrameworks(c.Compliance.Frameworks)
	if err != nil {
		return policy.Options{}, err
	}
	opts := policy.Options{
		Frameworks:       frameworks,
		StrictMode:       c.Engine.StrictMode,
		SourceProtection: c.Engine.SourceProtection,
	}
	if policyType != "" {
		t, err := policy.ParseType(policyType)
		if err != nil {
			return policy.Options{}, err
		}
		opts.PolicyType = t
	}
	return opts, nil
}

func (c *Config) ComplianceOptions() (compliance.Options, error) {
	frameworks, err := policy.ParseFrameworks(c.Compliance.Frameworks)
	if err != nil {
		return compliance.Options{}, err
	}
	opts := compliance.Options{Frameworks: frameworks}
	if c.Compliance.SeverityThreshold != "" {
		severity, ok := engine.ParseSeverity(c.Compliance.SeverityThreshold)
		if !ok {
			return compliance.Options{}, fmt.Errorf("unknown severity threshold %q", c.Compliance.SeverityThreshold)
		}
		opts.SeverityThreshold = severity
	}
	return opts, nil
}

func (c *Config) DriftOptions() drift.Options {
	return drift.Options{
		Threshold:    c.Drift.Threshold,
		AlertOnDrift: c.Drift.AlertOnDrift,
		Retention:    time.Duration(c.Drift.RetentionDays) * 24 * time.Hour,
	}
}

// RemediationOptions leaves Approval empty; callers attach the approval
// record of the run.
func (c *Config) RemediationOptions() (remediation.Options, error) {
	mode, err := remediation.ParseMode(c.Remediation.Mode)
	if err != nil {
		return remediation.Options{}, err
	}
	return remediation.Options{
		Mode:                     mode,
		BackupBeforeRemediation:  c.Remediation.BackupBeforeRemediation,
		ValidateAfterRemediation: c.Remediation.ValidateAfterRemediation,
		RequireApproval:          c.Remediation.RequireApproval,
	}, nil
}

func (c *Config) EnforceOptions(policyType string) (enforce.Options, error) {
	mode, err := enforce.ParseMode(c.Enforcement.Mode)
	if err != nil {
		return enforce.Options{}, err
	}
	validation, err := c.ValidationOptions(policyType)
	if err != nil {
		return enforce.Options{}, err
	}
	return enforce.Options{
		Mode:               mode,
		Backup:             c.Enforcement.Backup,
		RollbackOnFailure:  c.Enforcement.RollbackOnFailure,
		ValidationRequired: c.Enforcement.ValidationRequired,
		ApprovalRequired:   c.Enforcement.ApprovalRequired,
		Validation:         validation,
		MaxConcurrent:      c.Engine.MaxConcurrent,
	}, nil
}

func (c *Config) ReconcileOptions() (reconcile.Options, error) {
	comp, err := c.ComplianceOptions()
	if err != nil {
		return reconcile.Options{}, err
	}
	rem, err := c.RemediationOptions()
	if err != nil {
		return reconcile.Options{}, err
	}
	return reconcile.Options{
		Compliance:    comp,
		Drift:         c.DriftOptions(),
		Remediation:   rem,
		MaxConcurrent: c.Engine.MaxConcurrent,
	}, nil
}

// SSHTransport returns the connection template shared by every host.
func (c *Config) SSHTransport() *sshtransport.Config {
	t := sshtransport.DefaultConfig("", c.SSH.User)
	t.Port = c.SSH.Port
	t.AuthMethod = sshtransport.AuthMethod(c.SSH.AuthMethod)
	t.Password = c.SSH.Password
	t.PrivateKeyPath = c.SSH.PrivateKeyPath
	if c.SSH.KnownHostsPath != "" {
		t.KnownHostsPath = c.SSH.KnownHostsPath
	}
	t.StrictHostKeyChecking = c.SSH.StrictHostKeyChecking
	t.ConnectionTimeout = c.SSH.ConnectionTimeout
	t.CommandTimeout = c.SSH.CommandTimeout
	t.KeepAliveInterval = c.SSH.KeepAliveInterval
	return t
}

func (c *Config) SSHOptions() executor.SSHOptions {
	return executor.SSHOptions{ConfigFile: c.SSH.ConfigFile, ReloadCommand: c.SSH.ReloadCommand}
}

func (c *Config) BoundedOptions(name string, metrics *telemetry.Metrics) executor.BoundedOptions {
	return executor.BoundedOptions{
		Name:          name,
		Timeout:       c.Executor.Timeout,
		RatePerSecond: c.Executor.RatePerSecond,
		Burst:         c.Executor.Burst,
		Metrics:       metrics,
	}
}

func (c *Config) RedisLock() lock.RedisConfig {
	r := c.Lock.Redis
	return lock.RedisConfig{
		Addr:          r.Addr,
		Password:      r.Password,
		DB:            r.DB,
		Prefix:        r.Prefix,
		TTL:           r.TTL,
		RetryInterval: r.RetryInterval,
	}
}

func (c *Config) S3Backup() backup.S3Config {
	s := c.Backup.S3
	return backup.S3Config{
		Bucket:   s.Bucket,
		Region:   s.Region,
		Endpoint: s.Endpoint,
		Prefix:   s.Prefix,
	}
}

func (c *Config) StoreConfig() stores.Config {
	return stores.Config{Path: c.History.DatabasePath}
}
