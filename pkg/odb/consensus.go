package odb

import (
	"fmt"
	"time"

	"github.com/stratumdb/stratum/pkg/events"
	"github.com/stratumdb/stratum/pkg/metrics"
	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// consensus is the per-path commit serializer. PerformCommit calls it
// inside the path's critical section: it replays a proposal's object log
// into the latest root, remapping clashed key allocations and faulting on
// irreconcilable concurrent changes.
type consensus struct {
	db *Database
}

func (p *consensus) Commit(conn substrate.Connection, proposal substrate.Address) (substrate.Address, error) {
	db := p.db
	start := time.Now()
	final, merged, err := db.merge(conn, proposal)
	switch {
	case err != nil:
		if IsCommitFault(err) {
			db.logger.Warn().Str("proposal", proposal.String()).Err(err).Msg("commit fault")
			db.emit(events.EventCommitFault, proposal)
			metrics.CommitsTotal.WithLabelValues(db.path, "fault").Inc()
		}
		return substrate.NilAddress, err
	case merged:
		metrics.CommitMergeDuration.Observe(time.Since(start).Seconds())
		db.logger.Debug().Str("proposal", proposal.String()).
			Str("root", final.String()).Msg("proposal merged")
		db.emit(events.EventCommitMerged, final)
		metrics.CommitsTotal.WithLabelValues(db.path, "merged").Inc()
	default:
		db.logger.Debug().Str("root", final.String()).Msg("proposal published")
		db.emit(events.EventCommitPublished, final)
		metrics.CommitsTotal.WithLabelValues(db.path, "published").Inc()
	}
	return final, nil
}

// merge implements the commit procedure. merged reports whether the
// proposal was replayed into the latest root rather than published as-is.
func (db *Database) merge(conn substrate.Connection, proposal substrate.Address) (substrate.Address, bool, error) {
	psub, err := conn.CreateTransaction(proposal)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	defer psub.Close()
	prop := &Transaction{db: db, sub: psub}
	if prop.log, err = openObjectLog(psub); err != nil {
		return substrate.NilAddress, false, err
	}

	// An introduced proposal carries no base root and publishes as-is.
	base, iterative, err := proposalBaseRoot(psub)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	if !iterative {
		final, err := conn.PublishAddress(proposal)
		return final, false, err
	}

	roots, err := conn.SnapshotsSince(base)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	if len(roots) == 0 {
		final, err := conn.PublishAddress(proposal)
		return final, false, err
	}

	rootLogs, closeRoots, err := openRootLogs(conn, roots)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	defer closeRoots()

	currentAddr, err := conn.CurrentSnapshot()
	if err != nil {
		return substrate.NilAddress, false, err
	}
	csub, err := conn.CreateTransaction(currentAddr)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	defer csub.Close()
	cur := &Transaction{db: db, sub: csub}
	if err := cur.resetJournal(); err != nil {
		return substrate.NilAddress, false, err
	}
	if cur.log, err = openObjectLog(csub); err != nil {
		return substrate.NilAddress, false, err
	}

	if err := db.mergeDictionary(prop, cur); err != nil {
		return substrate.NilAddress, false, err
	}
	if err := db.mergeAllocations(prop, cur, rootLogs); err != nil {
		return substrate.NilAddress, false, err
	}
	if err := db.checkChangeClashes(prop, rootLogs); err != nil {
		return substrate.NilAddress, false, err
	}
	if err := db.replayChanges(prop, cur); err != nil {
		return substrate.NilAddress, false, err
	}
	if err := db.mergeLists(prop, cur, rootLogs); err != nil {
		return substrate.NilAddress, false, err
	}

	// The merged snapshot is an iteration of the root it was replayed into.
	props, err := csub.DataFile(keyProperties)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	props.SetSize(0)
	props.WriteAt(encodeProperties(map[string]string{propBaseRoot: currentAddr.String()}), 0)

	final, err := conn.Publish(csub)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	return final, true, nil
}

// proposalBaseRoot reads the base-root property of a flushed proposal.
func proposalBaseRoot(psub *substrate.Transaction) (substrate.Address, bool, error) {
	f, err := psub.DataFile(keyProperties)
	if err != nil {
		return substrate.NilAddress, false, err
	}
	v := parseProperties(f.Bytes())[propBaseRoot]
	if v == "" || v == propNoBaseRoot {
		return substrate.NilAddress, false, nil
	}
	addr, err := substrate.ParseAddress(v)
	if err != nil {
		return substrate.NilAddress, false, fmt.Errorf("proposal base root: %w", err)
	}
	return addr, true, nil
}

func openRootLogs(conn substrate.Connection, roots []substrate.Address) ([]*objectLog, func(), error) {
	var subs []*substrate.Transaction
	closeAll := func() {
		for _, s := range subs {
			s.Close()
		}
	}
	logs := make([]*objectLog, 0, len(roots))
	for _, r := range roots {
		s, err := conn.CreateTransaction(r)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		subs = append(subs, s)
		l, err := openObjectLog(s)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		logs = append(logs, l)
	}
	return logs, closeAll, nil
}

// mergeDictionary folds the proposal's dictionary additions into the
// current root. Bindings never clash: the same (type, ref) pair inserts
// idempotently, and distinct references for one type coexist.
func (db *Database) mergeDictionary(prop, cur *Transaction) error {
	adds := prop.log.entries(logDictionaryAdd)
	if len(adds) == 0 {
		return nil
	}
	pd, err := prop.dict()
	if err != nil {
		return err
	}
	cd, err := cur.dict()
	if err != nil {
		return err
	}
	for _, e := range adds {
		r := ref.FromBytes(e[1:])
		typeStr, ok := pd.typeForRef(r)
		if !ok {
			return fmt.Errorf("proposal dictionary has no binding for %s", r)
		}
		cd.add(typeStr, r)
		cur.log.logDictionaryAdd(r)
		metrics.ReplayedEventsTotal.WithLabelValues("dictionary_add").Inc()
	}
	return nil
}

// mergeAllocations copies every resource the proposal allocated into the
// current root. A key also allocated by an intervening root clashed: the
// resource is rehomed under a fresh key and the reference lookup updated,
// so both transactions' resources stay retrievable.
func (db *Database) mergeAllocations(prop, cur *Transaction, rootLogs []*objectLog) error {
	allocs := prop.log.entries(logKeyAlloc)
	if len(allocs) == 0 {
		return nil
	}
	var maxKey substrate.Key
	type alloc struct {
		key   substrate.Key
		ref   ref.Ref
		fresh bool
	}
	plan := make([]alloc, 0, len(allocs))
	for _, e := range allocs {
		a := alloc{key: substrate.DecodeKey(e[1:17]), ref: ref.FromBytes(e[17:33])}
		for _, rl := range rootLogs {
			if rl.hasKeyAlloc(a.key) {
				a.fresh = true
				break
			}
		}
		if a.key.Compare(maxKey) > 0 {
			maxKey = a.key
		}
		plan = append(plan, a)
	}

	counter, err := cur.counter()
	if err != nil {
		return err
	}
	counter.advancePast(maxKey)
	lk, err := cur.lookup()
	if err != nil {
		return err
	}
	for _, a := range plan {
		dstKey := a.key
		if a.fresh {
			dstKey = counter.next()
			db.logger.Debug().Str("ref", a.ref.String()).
				Stringer("from", a.key).Stringer("to", dstKey).
				Msg("remapped clashed key allocation")
		}
		src, err := prop.sub.DataFile(a.key)
		if err != nil {
			return err
		}
		dst, err := cur.sub.DataFile(dstKey)
		if err != nil {
			return err
		}
		dst.ReplicateFrom(src)
		lk.put(a.ref, dstKey)
		cur.log.logKeyAlloc(dstKey, a.ref)
		metrics.ReplayedEventsTotal.WithLabelValues("key_alloc").Inc()
	}
	return nil
}

// checkChangeClashes faults when any intervening root touched an object or
// data blob the proposal also touched.
func (db *Database) checkChangeClashes(prop *Transaction, rootLogs []*objectLog) error {
	for _, e := range prop.log.entries(logObjectChange) {
		classRef, objRef := ref.FromBytes(e[1:17]), ref.FromBytes(e[17:33])
		for _, rl := range rootLogs {
			if rl.hasObjectChange(classRef, objRef) {
				return commitFaultf("Object at reference %s concurrently modified", objRef)
			}
		}
	}
	for _, e := range prop.log.entries(logDataChange) {
		dataRef := ref.FromBytes(e[1:])
		for _, rl := range rootLogs {
			if rl.hasDataChange(dataRef) {
				return commitFaultf("Data at reference %s concurrently modified", dataRef)
			}
		}
	}
	return nil
}

// replayChanges replays the proposal's object and data mutations into the
// current root, record for record.
func (db *Database) replayChanges(prop, cur *Transaction) error {
	for _, e := range prop.log.entries(logObjectChange) {
		classRef, objRef := ref.FromBytes(e[1:17]), ref.FromBytes(e[17:33])
		pb, err := prop.bucketFor(classRef)
		if err != nil {
			return err
		}
		rec, ok := pb.get(objRef)
		if !ok {
			return fmt.Errorf("proposal bucket %s has no record for %s", classRef, objRef)
		}
		cb, err := cur.bucketFor(classRef)
		if err != nil {
			return err
		}
		cb.upsert(rec)
		cur.log.logObjectChange(classRef, objRef)
		metrics.ReplayedEventsTotal.WithLabelValues("object_change").Inc()
	}
	for _, e := range prop.log.entries(logDataChange) {
		dataRef := ref.FromBytes(e[1:])
		srcKey, err := prop.deref(dataRef)
		if err != nil {
			return err
		}
		dstKey, err := cur.deref(dataRef)
		if err != nil {
			return err
		}
		src, err := prop.sub.DataFile(srcKey)
		if err != nil {
			return err
		}
		dst, err := cur.sub.DataFile(dstKey)
		if err != nil {
			return err
		}
		dst.ReplicateFrom(src)
		cur.log.logDataChange(dataRef)
		metrics.ReplayedEventsTotal.WithLabelValues("data_change").Inc()
	}
	return nil
}

// mergeLists reconciles ordered list changes. A list nobody else touched
// copies over wholesale, log entries included; a list an intervening root
// also changed is rebuilt by replaying the proposal's adds and removes
// against the current state, faulting on irreconcilable outcomes.
func (db *Database) mergeLists(prop, cur *Transaction, rootLogs []*objectLog) error {
	changes := prop.log.entries(logListChange)
	builds := make(map[ref.Ref]bool)
	for _, e := range changes {
		listRef := ref.FromBytes(e[1:])
		for _, rl := range rootLogs {
			if rl.hasListChange(listRef) {
				builds[listRef] = true
				break
			}
		}
	}

	for _, e := range changes {
		listRef := ref.FromBytes(e[1:])
		if builds[listRef] {
			continue
		}
		srcKey, err := prop.deref(listRef)
		if err != nil {
			return err
		}
		dstKey, err := cur.deref(listRef)
		if err != nil {
			return err
		}
		src, err := prop.sub.DataFile(srcKey)
		if err != nil {
			return err
		}
		dst, err := cur.sub.DataFile(dstKey)
		if err != nil {
			return err
		}
		dst.ReplicateFrom(src)
		cur.log.appendOnce(entryListChange(listRef))
		for _, op := range prop.log.listOpEntries(logListAdd, listRef) {
			cur.log.append(op)
		}
		for _, op := range prop.log.listOpEntries(logListRemove, listRef) {
			cur.log.append(op)
		}
		metrics.ReplayedEventsTotal.WithLabelValues("list_copy").Inc()
	}

	for _, e := range prop.log.entries(logListAdd) {
		listRef, objRef, listClassRef := splitListOp(e)
		if !builds[listRef] {
			continue
		}
		list, err := cur.listForClassRef(listRef, listClassRef)
		if err != nil {
			return err
		}
		if err := list.AddRef(objRef); err != nil {
			if IsConstraintViolation(err) {
				return commitFaultf("Duplicate add object to list operation: %v", err)
			}
			return err
		}
		metrics.ReplayedEventsTotal.WithLabelValues("list_add").Inc()
	}
	for _, e := range prop.log.entries(logListRemove) {
		listRef, objRef, listClassRef := splitListOp(e)
		if !builds[listRef] {
			continue
		}
		list, err := cur.listForClassRef(listRef, listClassRef)
		if err != nil {
			return err
		}
		removed, err := list.Remove(objRef)
		if err != nil {
			return err
		}
		if !removed {
			return commitFaultf("Duplicate remove object from list operation")
		}
		metrics.ReplayedEventsTotal.WithLabelValues("list_remove").Inc()
	}
	return nil
}

func splitListOp(e []byte) (listRef, objRef, listClassRef ref.Ref) {
	return ref.FromBytes(e[1:17]), ref.FromBytes(e[17:33]), ref.FromBytes(e[33:49])
}
