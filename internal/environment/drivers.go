package environment

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

var ErrUnknownDriver = errors.New("unknown driver")

// DriverEntry is a registered database driver.
type DriverEntry struct {
	Name   string
	Driver driver.Driver
}

// drivers is the per frame driver registry state. It is guarded by the
// owning frame's mutex.
//
// A frame that never registered or deregistered anything is untouched and
// reads its nearest touched ancestor live. The first write copies that
// ancestor's set into the frame. Reads of a touched frame are served from a
// lazily taken snapshot that every write invalidates.
type drivers struct {
	touched  bool
	set      []DriverEntry
	snapshot []DriverEntry
}

func copyEntries(in []DriverEntry) []DriverEntry {
	return append(make([]DriverEntry, 0, len(in)), in...)
}

// ownDriverSet returns the set a write should modify, copying from the
// nearest touched ancestor on first write. f.mu must be held.
func (f *Frame) ownDriverSet() []DriverEntry {
	if !f.drivers.touched {
		f.drivers.set = f.parentDrivers()
		f.drivers.touched = true
	}
	return f.drivers.set
}

// parentDrivers reads the nearest touched ancestor's set. f.mu may be held;
// ancestors are locked one at a time, always after their descendants, so
// lock order is consistent.
func (f *Frame) parentDrivers() []DriverEntry {
	for p := f.parent; p != nil; p = p.parent {
		p.mu.Lock()
		if p.drivers.touched {
			out := copyEntries(p.drivers.set)
			p.mu.Unlock()
			return out
		}
		p.mu.Unlock()
	}
	return nil
}

// RegisterDriver adds or replaces a driver in this frame only.
func (f *Frame) RegisterDriver(name string, d driver.Driver) error {
	if d == nil {
		return fmt.Errorf("register driver %q: nil driver", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.ownDriverSet()
	for i := range set {
		if set[i].Name == name {
			set[i].Driver = d
			f.drivers.snapshot = nil
			return nil
		}
	}
	f.drivers.set = append(set, DriverEntry{Name: name, Driver: d})
	f.drivers.snapshot = nil
	return nil
}

// DeregisterDriver removes a driver from this frame's view.
func (f *Frame) DeregisterDriver(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.ownDriverSet()
	for i := range set {
		if set[i].Name == name {
			f.drivers.set = append(set[:i:i], set[i+1:]...)
			f.drivers.snapshot = nil
			return true
		}
	}
	return false
}

// Drivers returns the drivers visible from this frame in registration
// order. The returned slice must not be modified.
func (f *Frame) Drivers() []DriverEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.drivers.touched {
		return f.parentDrivers()
	}
	if f.drivers.snapshot == nil {
		f.drivers.snapshot = copyEntries(f.drivers.set)
	}
	return f.drivers.snapshot
}

// Driver looks a driver up by name.
func (f *Frame) Driver(name string) (driver.Driver, bool) {
	for _, e := range f.Drivers() {
		if e.Name == name {
			return e.Driver, true
		}
	}
	return nil, false
}

// OpenDB opens a database through a driver visible from this frame, without
// going through the process wide database/sql registry.
func (f *Frame) OpenDB(name, dsn string) (*sql.DB, error) {
	d, ok := f.Driver(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownDriver)
	}
	return sql.OpenDB(dsnConnector{dsn: dsn, driver: d}), nil
}

func (f *Frame) dropDriverSnapshot() {
	f.mu.Lock()
	f.drivers.snapshot = nil
	f.mu.Unlock()
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver { return c.driver }

// dropSnapshots releases driver snapshots of popped frames.
type dropSnapshots struct{}

func (dropSnapshots) OnPush(*Frame) {}

func (dropSnapshots) OnPop(f *Frame) { f.dropDriverSnapshot() }
