// Package adapter wires a single named volume's identity, storage,
// consensus and filesystem layers together and mounts it, mirroring the
// startup/shutdown lifecycle the teacher's S3 adapter used to drive the
// FUSE layer over a flat object store.
package adapter

import (
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/config"
	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/internal/filesystem"
	"github.com/silofs/silofs/internal/fuse"
	"github.com/silofs/silofs/internal/health"
	"github.com/silofs/silofs/internal/metrics"
	"github.com/silofs/silofs/internal/overlay"
	"github.com/silofs/silofs/internal/registry"
	"github.com/silofs/silofs/internal/silo"
	"github.com/silofs/silofs/pkg/crypto"
)

const sealingCredentialService = "sealing"

// Adapter owns the lifecycle of one mounted volume: registry-backed
// identity and layout, the local silo and consensus stack built over it,
// the filesystem core, and the FUSE mount itself.
type Adapter struct {
	dataDir    string
	volumeName string
	owner      string
	mountPoint string
	config     *config.Configuration

	reg      *registry.Registry
	identity crypto.KeyPair
	metrics  *metrics.Collector
	core     *filesystem.Filesystem
	mountMgr *fuse.MountManager
	health   *health.Monitor

	started bool
}

// New creates an Adapter for the named volume, rooted at dataDir (the
// registry's data directory) and mounted at mountPoint.
func New(dataDir, owner, volumeName, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if volumeName == "" {
		return nil, fmt.Errorf("volume name cannot be empty")
	}
	if owner == "" {
		owner = "local"
	}

	reg, err := registry.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	return &Adapter{
		dataDir:    dataDir,
		volumeName: volumeName,
		owner:      owner,
		mountPoint: mountPoint,
		config:     cfg,
		reg:        reg,
	}, nil
}

// Start initializes the storage/consensus/filesystem stack and mounts it.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	log.Printf("starting silofs volume %q", a.volumeName)
	log.Printf("mount point: %s", a.mountPoint)
	log.Printf("replication factor: %d", a.config.Silofs.ReplicationFactor)

	var err error
	a.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled:   a.config.Monitoring.Metrics.Enabled,
		Port:      a.config.Global.MetricsPort,
		Namespace: "silofs",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics collector: %w", err)
	}

	if err := a.loadOrCreateIdentity(); err != nil {
		return fmt.Errorf("failed to establish identity: %w", err)
	}

	sealingSecret, err := a.loadOrCreateSealingSecret()
	if err != nil {
		return fmt.Errorf("failed to establish sealing secret: %w", err)
	}

	fileSilo, err := silo.NewFileSilo(registry.BlocksDir(a.dataDir, a.volumeName))
	if err != nil {
		return fmt.Errorf("failed to initialize local silo: %w", err)
	}

	peer := overlay.NewLoopbackPeer(a.owner, fileSilo)
	ov := overlay.NewStaticOverlay(peer)

	cs, err := consensus.NewStack(ov, consensus.StackConfig{
		Replication: consensus.ReplicationConfig{
			ReplicationFactor: a.config.Silofs.ReplicationFactor,
			EvictionDelay:     a.config.Silofs.EvictionDelay,
		},
		Cache: consensus.CacheConfig{
			MaxSize: a.config.Silofs.CacheRAMSize,
			TTL:     a.config.Silofs.CacheRAMTTL,
		},
		JournalDir: registry.AsyncWritesDir(a.dataDir, a.volumeName),
	}, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to build consensus stack: %w", err)
	}

	a.core = filesystem.New(cs, a.identity, sealingSecret, filesystem.Config{
		MaxEmbedSize:       a.config.Silofs.MaxEmbedSize,
		FirstBlockDataSize: a.config.Silofs.FirstBlockDataSize,
		BlockSize:          a.config.Silofs.BlockSize,
		CacheRAMSize:       a.config.Silofs.CacheRAMSize,
		CacheRAMTTL:        a.config.Silofs.CacheRAMTTL,
	}, a.metrics)

	if err := a.startHealthMonitor(ctx, fileSilo, ov); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}

	root, err := a.loadOrCreateRoot(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve volume root: %w", err)
	}

	fsys := fuse.NewFileSystem(a.core, root, &fuse.Config{
		MountPoint: a.mountPoint,
	})

	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			FSName:  "silofs",
			Subtype: a.volumeName,
		},
	}

	a.mountMgr = fuse.NewMountManager(fsys, mountConfig)
	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	a.started = true
	log.Printf("silofs volume %q mounted successfully", a.volumeName)
	return nil
}

// Stop unmounts the filesystem and releases the registry handle.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("stopping silofs volume %q", a.volumeName)

	var lastErr error
	if a.health != nil {
		if err := a.health.Stop(); err != nil {
			log.Printf("error stopping health monitor: %v", err)
			lastErr = err
		}
	}

	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("error unmounting filesystem: %v", err)
			lastErr = err
		}
	}

	if a.core != nil {
		if err := a.core.Close(); err != nil {
			log.Printf("error closing filesystem core: %v", err)
			lastErr = err
		}
	}

	if err := a.reg.Close(); err != nil {
		log.Printf("error closing registry: %v", err)
		lastErr = err
	}

	a.started = false
	log.Printf("silofs volume %q stopped", a.volumeName)
	return lastErr
}

// loadOrCreateIdentity loads the owner's signing keypair from the
// registry, generating and persisting one the first time this owner
// mounts anything.
func (a *Adapter) loadOrCreateIdentity() error {
	user, err := a.reg.GetUser(a.owner)
	if err == nil {
		a.identity = crypto.KeyPair{
			Public:  append([]byte(nil), user.PublicKey...),
			Private: append([]byte(nil), user.PrivateKey...),
		}
		return nil
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	a.identity = kp

	return a.reg.CreateUser(&registry.User{
		Name:       a.owner,
		PublicKey:  kp.Public,
		PrivateKey: kp.Private,
	})
}

// loadOrCreateSealingSecret stands in for the out-of-band secret a real
// deployment would negotiate through the passport/credential exchange:
// persisted once per owner as an ordinary registry credential.
func (a *Adapter) loadOrCreateSealingSecret() ([]byte, error) {
	cred, err := a.reg.GetCredential(sealingCredentialService, a.owner)
	if err == nil {
		secret, decodeErr := hex.DecodeString(cred.Data["secret"])
		if decodeErr != nil {
			return nil, decodeErr
		}
		return secret, nil
	}

	key, err := crypto.NewPayloadKey()
	if err != nil {
		return nil, err
	}
	secret := key[:]

	if err := a.reg.CreateCredential(&registry.Credential{
		Service: sealingCredentialService,
		UID:     a.owner,
		Data:    map[string]string{"secret": hex.EncodeToString(secret)},
	}); err != nil {
		return nil, err
	}
	return secret, nil
}

// loadOrCreateRoot resolves the volume's root directory, creating a fresh
// one and recording it in the registry the first time this volume mounts.
func (a *Adapter) loadOrCreateRoot(ctx context.Context) (*filesystem.Directory, error) {
	vol, err := a.reg.GetVolume(a.volumeName)
	if err == nil && vol.RootAddress != "" {
		addr, err := block.AddressFromHex(vol.RootAddress)
		if err != nil {
			return nil, err
		}
		return a.core.OpenDirectory(ctx, addr)
	}

	root, err := a.core.CreateRoot(ctx)
	if err != nil {
		return nil, err
	}

	return root, a.reg.CreateVolume(&registry.Volume{
		Name:        a.volumeName,
		Network:     a.owner,
		RootAddress: root.Address().String(),
	})
}

// startHealthMonitor builds and starts a health monitor checking the local
// silo and every peer the overlay currently knows about, serving aggregate
// status as JSON on Global.HealthPort.
func (a *Adapter) startHealthMonitor(ctx context.Context, localSilo silo.Silo, ov overlay.Overlay) error {
	hc := a.config.Monitoring.HealthChecks
	monitor, err := health.NewMonitor(&health.MonitorConfig{
		Enabled:         hc.Enabled,
		MonitorInterval: hc.Interval,
		HealthCheckConfig: &health.Config{
			Enabled:          hc.Enabled,
			CheckInterval:    hc.Interval,
			Timeout:          hc.Timeout,
			MaxFailures:      3,
			FailureWindow:    5 * time.Minute,
			RecoveryRequired: 2,
			EnableAlerts:     true,
			AlertThreshold:   2,
			MetricsEnabled:   true,
			HTTPEnabled:      true,
			HTTPPort:         a.config.Global.HealthPort,
			HTTPPath:         "/health",
		},
		AlertingEnabled:  true,
		ReportingEnabled: false,
	})
	if err != nil {
		return err
	}

	if err := monitor.RegisterComponent(&siloHealthComponent{silo: localSilo}); err != nil {
		return err
	}
	for _, p := range ov.Peers(ctx) {
		if err := monitor.RegisterComponent(&peerHealthComponent{peer: p}); err != nil {
			return err
		}
	}

	if err := monitor.Start(ctx); err != nil {
		return err
	}
	a.health = monitor
	return nil
}

// siloHealthComponent reports a local silo healthy as long as it can list
// its contents.
type siloHealthComponent struct {
	silo silo.Silo
}

func (s *siloHealthComponent) HealthCheck(ctx context.Context) error {
	_, err := s.silo.List(ctx)
	return err
}

func (s *siloHealthComponent) GetComponentName() string { return "local_silo" }
func (s *siloHealthComponent) GetComponentType() string { return "storage" }

// peerHealthComponent reports a replica healthy if it responds to a Fetch
// at all, including the expected ErrPeerMissingBlock for a sentinel
// address no data is ever stored at.
type peerHealthComponent struct {
	peer overlay.PeerHandle
}

var healthProbeAddress = block.NewAddress([32]byte{}, false, false)

func (p *peerHealthComponent) HealthCheck(ctx context.Context) error {
	_, err := p.peer.Fetch(ctx, healthProbeAddress)
	if err != nil && !stderrors.Is(err, overlay.ErrPeerMissingBlock) {
		return err
	}
	return nil
}

func (p *peerHealthComponent) GetComponentName() string { return "peer_" + p.peer.ID() }
func (p *peerHealthComponent) GetComponentType() string { return "network" }
