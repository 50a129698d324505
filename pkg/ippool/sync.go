package ippool

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/latticevpn/sessiond/internal/store"
)

// Synchronizer reconciles the ip_pool table against the configured network
// CIDR: every host address not explicitly reserved should have a row, and
// no row should exist for an address outside that set unless something is
// still actively using it.
type Synchronizer struct {
	pool        *pgxpool.Pool
	projectName string
	cidr        netip.Prefix
	reserved    map[netip.Addr]bool
	logger      *slog.Logger
}

// NewSynchronizer creates a Synchronizer for the given network.
func NewSynchronizer(pool *pgxpool.Pool, projectName string, cidr netip.Prefix, reservedIPs []string, logger *slog.Logger) (*Synchronizer, error) {
	reserved := make(map[netip.Addr]bool, len(reservedIPs))
	for _, s := range reservedIPs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parsing reserved ip %q: %w", s, err)
		}
		reserved[addr] = true
	}
	return &Synchronizer{
		pool:        pool,
		projectName: projectName,
		cidr:        cidr,
		reserved:    reserved,
		logger:      logger,
	}, nil
}

// hosts returns every usable host address in the CIDR: the network and
// broadcast addresses of an IPv4 prefix are excluded, matching the Python
// original's use of ipaddress.hosts().
func (s *Synchronizer) hosts() []netip.Addr {
	var out []netip.Addr
	network := s.cidr.Masked().Addr()
	broadcast := lastAddr(s.cidr)

	addr := network
	for {
		addr = addr.Next()
		if !s.cidr.Contains(addr) || addr == broadcast {
			break
		}
		out = append(out, addr)
	}
	return out
}

func lastAddr(p netip.Prefix) netip.Addr {
	base := p.Masked().Addr()
	bytes := base.AsSlice()
	ones := p.Bits()
	for i := range bytes {
		bitIdx := i * 8
		if bitIdx+8 <= ones {
			continue
		}
		if bitIdx >= ones {
			bytes[i] = 0xff
			continue
		}
		mask := byte(0xff) >> (ones - bitIdx)
		bytes[i] |= mask
	}
	last, _ := netip.AddrFromSlice(bytes)
	return last
}

// Sync reconciles the pool table. It takes a Postgres advisory lock keyed by
// projectName for its duration, so that multiple instances starting
// concurrently don't race to insert or delete the same rows.
func (s *Synchronizer) Sync(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	return store.WithAdvisoryLock(ctx, conn, s.projectName, func(ctx context.Context) error {
		return s.syncLocked(ctx, conn)
	})
}

func (s *Synchronizer) syncLocked(ctx context.Context, db store.DBTX) error {
	desired := make(map[netip.Addr]bool)
	for _, addr := range s.hosts() {
		if !s.reserved[addr] {
			desired[addr] = true
		}
	}

	rows, err := db.Query(ctx, `SELECT ip, state FROM ip_pool`)
	if err != nil {
		return fmt.Errorf("listing existing pool rows: %w", err)
	}
	existing := make(map[netip.Addr]State)
	for rows.Next() {
		var ipText string
		var st string
		if err := rows.Scan(&ipText, &st); err != nil {
			rows.Close()
			return fmt.Errorf("scanning pool row: %w", err)
		}
		addr, err := netip.ParseAddr(ipText)
		if err != nil {
			rows.Close()
			return fmt.Errorf("parsing pool ip %q: %w", ipText, err)
		}
		existing[addr] = State(st)
	}
	rows.Close()

	var added, removed, warned int
	for addr := range desired {
		if _, ok := existing[addr]; ok {
			continue
		}
		if _, err := db.Exec(ctx, `
			INSERT INTO ip_pool (ip, state, updated_at) VALUES ($1, 'FREE', now())
			ON CONFLICT (ip) DO NOTHING
		`, addr.String()); err != nil {
			return fmt.Errorf("inserting pool row %s: %w", addr, err)
		}
		added++
	}

	for addr, state := range existing {
		if desired[addr] {
			continue
		}
		switch state {
		case StateFree, StateQuarantined:
			if _, err := db.Exec(ctx, `DELETE FROM ip_pool WHERE ip = $1`, addr.String()); err != nil {
				return fmt.Errorf("deleting pool row %s: %w", addr, err)
			}
			removed++
		case StateAssigned:
			s.logger.Warn("ip pool row outside desired range is still assigned; leaving it alone",
				"ip", addr.String())
			warned++
		}
	}

	s.logger.Info("ip pool synchronized", "added", added, "removed", removed, "assigned_outside_range", warned)
	return nil
}
