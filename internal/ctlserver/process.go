package ctlserver

import (
	"errors"
	"fmt"
	"sync"
)

// defaultProcess is the name of the one recognition process this daemon
// hosts. The original protocol's PROCESS command group lets a client
// hot-load additional LM/SR configurations (a jconf file) as independent
// named processes and switch which one grammar commands target; this
// rewrite runs exactly one Engine per daemon (see cmd/lvcsrd), so
// processManager implements the group only enough to answer the protocol
// truthfully — one fixed, always-active process — rather than hot-loading
// a second configuration it has nowhere to run.
const defaultProcess = "lvcsr"

// errNoMultiProcess is returned by every command that would require more
// than one concurrently running recognition process.
var errNoMultiProcess = errors.New("ctlserver: this daemon hosts a single recognition process and does not support ADDPROCESS")

// processManager answers LISTPROCESS/CURRENTPROCESS/SHIFTPROCESS/
// ADDPROCESS/DELPROCESS/ACTIVATEPROCESS/DEACTIVATEPROCESS over the single
// fixed process this daemon hosts.
type processManager struct {
	mu     sync.Mutex
	active bool
}

func newProcessManager() *processManager {
	return &processManager{active: true}
}

func (p *processManager) list() []string {
	return []string{defaultProcess}
}

func (p *processManager) current() string {
	return defaultProcess
}

// setCurrent validates that name refers to the only process that exists;
// there is nothing to switch to.
func (p *processManager) setCurrent(name string) error {
	if name != defaultProcess {
		return fmt.Errorf("ctlserver: no such process %q", name)
	}
	return nil
}

// shift is a no-op with one process: shifting returns to the same process.
func (p *processManager) shift() string {
	return defaultProcess
}

func (p *processManager) add(jconf string) error {
	return errNoMultiProcess
}

func (p *processManager) delete(name string) error {
	return fmt.Errorf("ctlserver: cannot delete the only recognition process %q", defaultProcess)
}

func (p *processManager) setActive(name string, active bool) error {
	if name != defaultProcess {
		return fmt.Errorf("ctlserver: no such process %q", name)
	}
	p.mu.Lock()
	p.active = active
	p.mu.Unlock()
	return nil
}
