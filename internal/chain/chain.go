// Package chain implements Chain (§4.7): head/header_head/sync_head
// tracking, atomic block application across BlockDB and TxHashSet,
// reorg, and a bounded orphan pool.
//
// Grounded on the teacher's node/store/reorg.go for the
// find-fork-point / disconnect-to-fork / reconnect-to-new-tip shape,
// generalized from the teacher's UTXO-outpoint undo application to
// TxHashSet's three-MMR rewind (internal/txhashset.Rewind) plus
// BlockDB's SPENT_OUTPUTS-backed undo records (internal/blockdb).
package chain

import (
	"go.uber.org/zap"

	"wimble.dev/node/internal/blockdb"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/txhashset"
)

// OrphanPoolCapacity bounds the orphan LRU (§4.7).
const OrphanPoolCapacity = 500

// outputOrigin is what Chain tracks per live output for I8 enforcement,
// mirroring BlockDB.OUTPUT_POS's recorded (commitment -> {mmr_pos,
// height}) plus the feature bit needed to tell coinbase apart from
// plain outputs.
type outputOrigin struct {
	height     uint64
	isCoinbase bool
}

// Chain is the single chain-writer (§5: "Block application is strictly
// serialized on a single chain-writer"). Callers are responsible for
// holding the writer lock for the duration of ProcessBlock/AcceptHeader;
// Chain itself does not lock, matching the teacher's single-goroutine
// store-access pattern in node/store.
type Chain struct {
	db    *blockdb.DB
	state *txhashset.TxHashSet
	log   *zap.Logger

	head       chaintypes.BlockHeader
	headerHead chaintypes.BlockHeader
	syncHead   chaintypes.BlockHeader

	headersByHash map[crypto.Hash]chaintypes.BlockHeader
	childrenOf    map[crypto.Hash][]crypto.Hash
	undoByBlock   map[crypto.Hash]blockdb.UndoRecord
	origins       map[crypto.Commitment]outputOrigin

	orphans *orphanPool
}

// New constructs a Chain rooted at genesis. genesis must already satisfy
// ValidateHeader/ValidateBodySelfConsistent; New applies it unconditionally
// (§8 E1: "apply genesis -> tip.hash == GENESIS_HASH").
func New(db *blockdb.DB, log *zap.Logger, genesis chaintypes.FullBlock) (*Chain, error) {
	c := &Chain{
		db:            db,
		state:         txhashset.New(),
		log:           log,
		headersByHash: make(map[crypto.Hash]chaintypes.BlockHeader),
		childrenOf:    make(map[crypto.Hash][]crypto.Hash),
		undoByBlock:   make(map[crypto.Hash]blockdb.UndoRecord),
		origins:       make(map[crypto.Commitment]outputOrigin),
		orphans:       newOrphanPool(OrphanPoolCapacity),
	}
	if err := c.applyAndCommit(genesis); err != nil {
		return nil, err
	}
	c.head = genesis.Header
	c.headerHead = genesis.Header
	c.syncHead = genesis.Header
	c.headersByHash[genesis.Hash()] = genesis.Header
	return c, nil
}

func (c *Chain) Head() chaintypes.BlockHeader       { return c.head }
func (c *Chain) HeaderHead() chaintypes.BlockHeader { return c.headerHead }
func (c *Chain) SyncHead() chaintypes.BlockHeader   { return c.syncHead }

// HeaderByHash looks up a known header by hash, for the RPC facade's
// get_header method (§6).
func (c *Chain) HeaderByHash(hash crypto.Hash) (chaintypes.BlockHeader, bool) {
	h, ok := c.headersByHash[hash]
	return h, ok
}

// BlockByHash loads a full block by hash from BlockDB, for the RPC
// facade's get_block method (§6).
func (c *Chain) BlockByHash(hash crypto.Hash) (chaintypes.FullBlock, bool, error) {
	return c.loadBlock(hash)
}

// OutputPos implements consensus.UTXOSource.
func (c *Chain) OutputPos(com crypto.Commitment) (uint64, bool) { return c.state.OutputPos(com) }

// OutputOrigin implements consensus.OriginSource.
func (c *Chain) OutputOrigin(com crypto.Commitment) (uint64, bool, bool) {
	o, ok := c.origins[com]
	return o.height, o.isCoinbase, ok
}

// OriginRecord is the public shape of outputOrigin, used by
// SwapState's caller (SyncEngine's PROCESSING_TXHASHSET step, §4.9) to
// hand Chain the per-output creation bookkeeping a TxHashSet archive's
// LiveOutputs carries, since I8 maturity enforcement needs it and a
// fast-synced TxHashSet has no block-by-block replay to derive it from.
type OriginRecord struct {
	Commitment crypto.Commitment
	Height     uint64
	IsCoinbase bool
}

// SwapState replaces Chain's live TxHashSet wholesale and advances
// head/header_head/sync_head to header, the PROCESSING_TXHASHSET →
// SYNCING_BLOCKS transition of §4.9: state is the result of
// txhashset.LoadArchive (already checked against header's roots/sizes)
// plus txhashset.ValidateFull (rangeproofs, kernel signatures, and the
// whole-set balance identity) run by the caller before this is called.
// Undo history before header is unavailable after a fast sync — a
// reorg below header's height cannot be served until enough blocks have
// been applied normally past it to rebuild an undo trail, which matches
// every Mimblewimble-family implementation's fast-sync horizon trade-off
// (§4.9 "TxHashSet archive at peer.tip.height - HORIZON").
func (c *Chain) SwapState(header chaintypes.BlockHeader, state *txhashset.TxHashSet, origins []OriginRecord) {
	c.state = state
	c.head = header
	c.headerHead = header
	c.syncHead = header
	c.headersByHash[header.Hash()] = header
	c.origins = make(map[crypto.Commitment]outputOrigin, len(origins))
	for _, o := range origins {
		c.origins[o.Commitment] = outputOrigin{height: o.Height, isCoinbase: o.IsCoinbase}
	}
	c.undoByBlock = make(map[crypto.Hash]blockdb.UndoRecord)
}

// AcceptHeader validates and records a header ahead of its body (§3
// Lifecycle: "Headers are accepted before their bodies"), advancing
// header_head when it extends the current header chain.
func (c *Chain) AcceptHeader(header chaintypes.BlockHeader) error {
	if _, exists := c.headersByHash[header.Hash()]; exists {
		return corerr.BadData(corerr.RuleAlreadyKnown)
	}
	var prevPtr *chaintypes.BlockHeader
	if header.Height > 0 {
		prev, ok := c.headersByHash[header.PrevHash]
		if !ok {
			return corerr.BadData(corerr.RulePrevHashUnknown)
		}
		prevPtr = &prev
	}
	if err := consensus.ValidateHeader(header, prevPtr, c.ancestorWindow(header.PrevHash), nowFunc()); err != nil {
		return err
	}
	c.headersByHash[header.Hash()] = header
	c.childrenOf[header.PrevHash] = append(c.childrenOf[header.PrevHash], header.Hash())
	if header.Height > c.headerHead.Height {
		c.headerHead = header
	}
	return nil
}

func (c *Chain) ancestorWindow(fromHash crypto.Hash) []chaintypes.BlockHeader {
	var out []chaintypes.BlockHeader
	cur := fromHash
	for i := 0; i < consensus.DifficultyWindow; i++ {
		h, ok := c.headersByHash[cur]
		if !ok {
			break
		}
		out = append([]chaintypes.BlockHeader{h}, out...)
		if h.Height == 0 {
			break
		}
		cur = h.PrevHash
	}
	return out
}

// ProcessBlock validates a full block and applies it to the best chain,
// or stores it in the orphan pool if its parent is unknown, or performs
// a reorg if it extends a non-best fork with greater total difficulty
// (§4.7).
func (c *Chain) ProcessBlock(block chaintypes.FullBlock) error {
	if _, ok := c.headersByHash[block.Hash()]; ok && block.Hash() == c.head.Hash() {
		return corerr.BadData(corerr.RuleAlreadyKnown)
	}

	if _, ok := c.headersByHash[block.Header.PrevHash]; !ok && block.Header.Height > 0 {
		c.orphans.Add(block)
		return corerr.BadData(corerr.RuleOrphanBlock)
	}

	if block.Header.PrevHash == c.head.Hash() || block.Header.Height == 0 {
		if err := c.applyOnTip(block); err != nil {
			return err
		}
		return c.admitOrphanChildren(block.Hash())
	}

	if block.Header.TotalDifficulty > c.head.TotalDifficulty {
		if err := c.reorgTo(block); err != nil {
			return err
		}
		return c.admitOrphanChildren(block.Hash())
	}

	// Extends a known but non-best, not-yet-heavier fork: accept the
	// header only, the body stays unapplied until (if ever) its fork
	// becomes heaviest.
	return c.AcceptHeader(block.Header)
}

func (c *Chain) admitOrphanChildren(parentHash crypto.Hash) error {
	for _, child := range c.orphans.TakeChildren(parentHash) {
		if err := c.ProcessBlock(child); err != nil {
			c.log.Warn("orphan child rejected after parent admitted", zap.Error(err))
		}
	}
	return nil
}

// applyOnTip validates and applies block directly on top of the current
// head. A block that already carries MarkValidated — loaded back from
// Chain's own trusted BlockDB during a reorg replay, never a block
// arriving for the first time — skips straight to applyAndCommit (§13,
// mirroring BlockValidator::VerifySelfConsistent's early return).
func (c *Chain) applyOnTip(block chaintypes.FullBlock) error {
	if !block.WasValidated() {
		var fees uint64
		for _, k := range block.Body.Kernels {
			fees += k.Fee
		}

		var prevPtr *chaintypes.BlockHeader
		if block.Header.Height > 0 {
			prevPtr = &c.head
		}
		if err := consensus.ValidateHeader(block.Header, prevPtr, c.ancestorWindow(block.Header.PrevHash), nowFunc()); err != nil {
			return err
		}
		if err := consensus.ValidateBodySelfConsistent(block.Body, block.Header.Height); err != nil {
			return err
		}
		if err := consensus.ValidateBlockAgainstState(block, fees, c, c); err != nil {
			return err
		}
		block.MarkValidated()
	}

	if err := c.applyAndCommit(block); err != nil {
		return err
	}
	c.head = block.Header
	c.headersByHash[block.Hash()] = block.Header
	if block.Header.Height > c.headerHead.Height {
		c.headerHead = block.Header
	}
	return nil
}

// applyAndCommit runs TxHashSet.ApplyBlock and persists the result
// (header, block body, undo record) as a single BlockDB transaction,
// rolling back on any failure so no partial state is ever observed
// (§4.7: "atomically commits {BlockDB write-batch, TxHashSet MMR
// append, UTXO-set bitmap update} or rolls all three back").
func (c *Chain) applyAndCommit(block chaintypes.FullBlock) error {
	res, err := c.state.ApplyBlock(block)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	hash := block.Hash()
	headerBytes := headerBytesOf(block.Header)
	if err := tx.Put(blockdb.ColHeader, hash[:], headerBytes); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Put(blockdb.ColBlock, hash[:], blockBytesOf(block)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Put(blockdb.ColSpentOutputs, hash[:], blockdb.EncodeUndoRecord(res.Undo)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	c.undoByBlock[hash] = res.Undo
	for _, o := range block.Body.Outputs {
		c.origins[o.Commitment] = outputOrigin{height: block.Header.Height, isCoinbase: o.Features == chaintypes.FeatureCoinbase}
	}
	for _, s := range res.Undo.Spent {
		delete(c.origins, s.Commitment)
	}
	return nil
}

// reorgTo unwinds the current chain back to the common ancestor with
// block's chain, reapplying the unwound blocks' spent sets in reverse,
// then applies block's ancestors forward in order; on any forward-apply
// failure the original chain is restored and the failing block reported
// (§4.7, §8 E4/E6).
func (c *Chain) reorgTo(block chaintypes.FullBlock) error {
	path, err := c.pathToKnownAncestor(block.Header)
	if err != nil {
		return err
	}
	oldForwardHeaders := c.headersFrom(path.ancestor, c.head)

	if err := c.unwindTo(path.ancestor); err != nil {
		return err
	}

	// path.forwardHeaders already ends with block.Header (the walk from
	// newTip back to the ancestor includes newTip itself).
	applyErr := c.applyForwardPath(path.forwardHeaders, block)
	if applyErr == nil {
		return nil
	}

	// Restore the original chain: unwind whatever partial progress was
	// made on the new fork back to the common ancestor, then replay the
	// original chain's blocks forward (§4.7: "if any new-fork block
	// fails validation, restore the original chain and report the
	// failing block").
	if err := c.unwindTo(path.ancestor); err != nil {
		return err
	}
	for _, hdr := range oldForwardHeaders {
		blk, ok, loadErr := c.loadBlock(hdr.Hash())
		if loadErr != nil || !ok {
			return corerr.BadData(corerr.RuleConsensusBroken)
		}
		if err := c.applyOnTip(blk); err != nil {
			return corerr.BadData(corerr.RuleConsensusBroken)
		}
	}
	return applyErr
}

// applyForwardPath applies every header in headers in order, loading
// each from BlockDB except the final one (finalBlock, not yet
// persisted).
func (c *Chain) applyForwardPath(headers []chaintypes.BlockHeader, finalBlock chaintypes.FullBlock) error {
	for i, hdr := range headers {
		if i == len(headers)-1 {
			return c.applyOnTip(finalBlock)
		}
		blk, ok, err := c.loadBlock(hdr.Hash())
		if err != nil || !ok {
			return corerr.BadData(corerr.RuleOrphanBlock)
		}
		if err := c.applyOnTip(blk); err != nil {
			return err
		}
	}
	return nil
}

// headersFrom returns the headers after ancestor up to and including
// tip, oldest first.
func (c *Chain) headersFrom(ancestor, tip chaintypes.BlockHeader) []chaintypes.BlockHeader {
	var out []chaintypes.BlockHeader
	for cur := tip; cur.Height > ancestor.Height; {
		out = append([]chaintypes.BlockHeader{cur}, out...)
		p, ok := c.headersByHash[cur.PrevHash]
		if !ok {
			break
		}
		cur = p
	}
	return out
}

type reorgPath struct {
	ancestor       chaintypes.BlockHeader
	forwardHeaders []chaintypes.BlockHeader
}

// pathToKnownAncestor walks both chains back from their tips to find
// the common ancestor, grounded on the teacher's findForkPoint.
func (c *Chain) pathToKnownAncestor(newTip chaintypes.BlockHeader) (reorgPath, error) {
	seen := make(map[crypto.Hash]bool)
	for cur := c.head; ; {
		seen[cur.Hash()] = true
		if cur.Height == 0 {
			break
		}
		p, ok := c.headersByHash[cur.PrevHash]
		if !ok {
			break
		}
		cur = p
	}

	var forward []chaintypes.BlockHeader
	cur := newTip
	for {
		if seen[cur.Hash()] {
			reverse(forward)
			return reorgPath{ancestor: cur, forwardHeaders: forward}, nil
		}
		forward = append(forward, cur)
		if cur.Height == 0 {
			return reorgPath{}, corerr.BadData(corerr.RuleOrphanBlock)
		}
		p, ok := c.headersByHash[cur.PrevHash]
		if !ok {
			return reorgPath{}, corerr.BadData(corerr.RuleOrphanBlock)
		}
		cur = p
	}
}

func reverse(h []chaintypes.BlockHeader) {
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
}

// unwindTo rewinds TxHashSet back to ancestor, the "disconnect" half of
// a reorg.
func (c *Chain) unwindTo(ancestor chaintypes.BlockHeader) error {
	undoByHeight := make(map[uint64]blockdb.UndoRecord)
	for cur := c.head; cur.Height > ancestor.Height; {
		if u, ok := c.undoByBlock[cur.Hash()]; ok {
			undoByHeight[cur.Height] = u
		}
		p, ok := c.headersByHash[cur.PrevHash]
		if !ok {
			return corerr.BadData(corerr.RuleOrphanBlock)
		}
		cur = p
	}
	if err := c.state.Rewind(ancestor, undoByHeight, c.head.Height); err != nil {
		return err
	}
	c.head = ancestor
	return nil
}

// loadBlock reads a block back from Chain's own trusted local store.
// Anything found here was already validated once to get committed, so
// the returned block carries MarkValidated — applyOnTip skips
// re-validating it on a reorg replay.
func (c *Chain) loadBlock(hash crypto.Hash) (chaintypes.FullBlock, bool, error) {
	raw, ok, err := c.db.Get(blockdb.ColBlock, hash[:])
	if err != nil || !ok {
		return chaintypes.FullBlock{}, ok, err
	}
	blk, err := decodeBlockBytes(raw)
	if err != nil {
		return blk, true, err
	}
	blk.MarkValidated()
	return blk, true, nil
}

func headerBytesOf(h chaintypes.BlockHeader) []byte {
	return encodeHeader(h)
}

func blockBytesOf(b chaintypes.FullBlock) []byte {
	return encodeBlock(b)
}
