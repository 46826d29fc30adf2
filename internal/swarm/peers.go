package swarm

import (
	"time"

	"github.com/arktorrent/swarm/internal/bitfield"
	"github.com/arktorrent/swarm/internal/choker"
	"github.com/arktorrent/swarm/internal/peerconn"
	"github.com/arktorrent/swarm/internal/peerprotocol"
	"github.com/arktorrent/swarm/internal/piece"
	"github.com/arktorrent/swarm/internal/scheduler"
	"github.com/arktorrent/swarm/internal/verifier"
)

// addPeer registers a freshly handshaken peer in the roster, starts its
// Run loop and message forwarder, and sends it our bitfield if we have
// anything worth advertising.
func (t *Torrent) addPeer(p *peerconn.Peer) {
	if _, exists := t.peers[p.String()]; exists {
		p.Close()
		return
	}
	pa := &peerAdapter{peer: p, seeding: func() bool { return t.completed }}
	t.peers[p.String()] = pa
	go p.Run()
	go t.forwardPeer(p)
	if t.localBitfield().Count() > 0 {
		p.SendMessage(peerprotocol.BitfieldMessage(t.localBitfield().Bytes()))
	}
}

// forwardPeer relays a peer's incoming frames into peerMsgC, and reports
// its disconnect on peerDoneC once Run has torn it down.
func (t *Torrent) forwardPeer(p *peerconn.Peer) {
	for {
		select {
		case msg := <-p.Messages():
			select {
			case t.peerMsgC <- peerMsg{peer: p, msg: msg}:
			case <-p.Done():
				t.notifyPeerDone(p)
				return
			case <-t.stopC:
				return
			}
		case <-p.Done():
			t.notifyPeerDone(p)
			return
		}
	}
}

func (t *Torrent) notifyPeerDone(p *peerconn.Peer) {
	select {
	case t.peerDoneC <- p:
	case <-t.stopC:
	}
}

func (t *Torrent) removePeer(p *peerconn.Peer) {
	key := p.String()
	if _, ok := t.peers[key]; !ok {
		p.Close()
		return
	}
	if kind := classifyPeerError(p.LastErr()); kind != nil {
		if _, transport := kind.(TransportError); transport {
			t.cooldown[key] = time.Now().Add(peerDialCooldown)
		}
		t.log.WithField("peer", key).Debugln("peer disconnected:", kind)
	}
	for _, pc := range t.pieces {
		pc.RemoveOwner(key)
	}
	t.sched.RemovePeer(key)
	delete(t.peers, key)
	p.Close()
}

func (t *Torrent) handleMessage(pm peerMsg) {
	pa, ok := t.peers[pm.peer.String()]
	if !ok {
		return
	}
	pa.peer.LastSeen = time.Now()
	if pm.msg.IsKeepAlive() {
		return
	}
	switch pm.msg.ID {
	case peerprotocol.Choke:
		pa.peer.PeerChoking = true
		t.sched.HandleChoke(pa.Key())
	case peerprotocol.Unchoke:
		pa.peer.PeerChoking = false
	case peerprotocol.Interested:
		pa.peer.PeerInterested = true
	case peerprotocol.NotInterested:
		pa.peer.PeerInterested = false
	case peerprotocol.Have:
		if int(pm.msg.HaveIndex) < len(t.pieces) {
			t.pieces[pm.msg.HaveIndex].AddOwner(pa.Key())
			pa.peer.PieceBitfield.Set(pm.msg.HaveIndex)
			t.updateInterest(pa)
		}
	case peerprotocol.Bitfield:
		t.handleBitfield(pa, pm.msg.BitfieldBytes)
	case peerprotocol.Request:
		t.handleRequest(pa, pm.msg)
	case peerprotocol.Piece:
		t.handlePiece(pa, pm.msg)
	case peerprotocol.Cancel, peerprotocol.Port:
		// Cancel: not acted on; a PIECE reply that handleRequest already
		// queued is still sent. Port: accepted and ignored, no DHT (non-goal).
	}
}

func (t *Torrent) handleBitfield(pa *peerAdapter, raw []byte) {
	bf := bitfield.NewBytes(raw, uint32(len(t.pieces)))
	if len(raw) != (len(t.pieces)+7)/8 || bf.ZeroTrailingBitsSet() {
		pa.peer.Close()
		return
	}
	for i := range t.pieces {
		if bf.Test(uint32(i)) {
			t.pieces[i].AddOwner(pa.Key())
		}
	}
	pa.peer.PieceBitfield = bf
	pa.peer.GotBitfield = true
	t.updateInterest(pa)
}

func (t *Torrent) updateInterest(pa *peerAdapter) {
	interesting := false
	for _, p := range t.pieces {
		if !p.Selected || p.Done {
			continue
		}
		if _, owns := p.Owners[pa.Key()]; owns {
			interesting = true
			break
		}
	}
	if interesting == pa.peer.AmInterested {
		return
	}
	pa.peer.AmInterested = interesting
	if interesting {
		pa.peer.SendMessage(peerprotocol.SimpleMessage(peerprotocol.Interested))
	} else {
		pa.peer.SendMessage(peerprotocol.SimpleMessage(peerprotocol.NotInterested))
	}
}

// blockInBounds reports whether a begin/length pair falls entirely within
// piece index's length and the torrent's total size, i.e. the BlockRequest
// invariant a REQUEST or PIECE message must satisfy before it is acted on.
func (t *Torrent) blockInBounds(index uint32, begin, length uint32) bool {
	if int(index) >= len(t.pieces) {
		return false
	}
	pieceLen := t.info.PieceLengthAt(int(index))
	end := int64(begin) + int64(length)
	if end > pieceLen {
		return false
	}
	return int64(index)*t.info.PieceLength+end <= t.info.TotalLength
}

func (t *Torrent) handleRequest(pa *peerAdapter, msg peerprotocol.Message) {
	if !t.blockInBounds(msg.Index, msg.Begin, msg.Length) {
		pa.peer.Close()
		return
	}
	if pa.peer.AmChoking || !pa.peer.PeerInterested || !t.pieces[msg.Index].Done || msg.Length > piece.MaxRequestLength {
		return
	}
	offset := int64(msg.Index)*t.info.PieceLength + int64(msg.Begin)
	data, err := t.store.ReadAt(offset, int(msg.Length))
	if err != nil || len(data) != int(msg.Length) {
		return
	}
	pa.peer.SendMessage(peerprotocol.PieceMessage(msg.Index, msg.Begin, data))
	pa.peer.BytesUploaded += int64(len(data))
	pa.peer.UploadRate.Update(int64(len(data)))
	t.uploaded += int64(len(data))
}

func (t *Torrent) handlePiece(pa *peerAdapter, msg peerprotocol.Message) {
	if !t.blockInBounds(msg.PieceIndex, msg.PieceBegin, uint32(len(msg.PieceData))) {
		pa.peer.Close()
		return
	}
	p := t.pieces[msg.PieceIndex]
	if p.Done || p.Writing {
		return
	}
	blockIndex := msg.PieceBegin / piece.BlockSize
	offset := int64(p.Index)*t.info.PieceLength + int64(msg.PieceBegin)
	t.store.Lock()
	err := t.store.WriteAt(offset, msg.PieceData)
	t.store.Unlock()
	if err != nil {
		se := StorageError{Err: err}
		t.log.Errorln(se.Error())
		t.lastErr = se.Error()
		t.paused = true
		return
	}
	p.MarkBlock(blockIndex)
	pa.peer.BytesDownloaded += int64(len(msg.PieceData))
	pa.peer.DownloadRate.Update(int64(len(msg.PieceData)))
	t.downloaded += int64(len(msg.PieceData))

	complete, cancelPeers := t.sched.GotBlock(p.Index, blockIndex, pa.Key())
	for _, key := range cancelPeers {
		if other, ok := t.peers[key]; ok {
			other.peer.SendMessage(peerprotocol.CancelMessage(p.Index, msg.PieceBegin, uint32(len(msg.PieceData))))
		}
	}
	if complete {
		p.Writing = true
		t.sched.ClearDownloaders(p.Index)
		t.verifier.VerifyAsync(p.Index)
	}
}

func (t *Torrent) handleVerifyResult(r verifier.Result) {
	p := t.pieces[r.Index]
	p.Writing = false
	if r.OK {
		p.Done = true
		t.broadcastHave(p.Index)
		return
	}
	p.Reset()
	t.log.Debugln(IntegrityError{PieceIndex: p.Index, Err: r.Err}.Error())
	for _, key := range t.sched.HandleHashFailure(p.Index) {
		if pa, ok := t.peers[key]; ok {
			pa.peer.Distrust++
			if pa.peer.Distrust >= DistrustThreshold {
				pa.peer.Close()
			}
		}
	}
}

func (t *Torrent) broadcastHave(index uint32) {
	for _, pa := range t.peers {
		pa.peer.SendMessage(peerprotocol.HaveMessage(index))
	}
}

func (t *Torrent) runSchedulerTick() {
	for _, pa := range t.peers {
		for _, b := range t.sched.AssignBlocks(pa) {
			pa.peer.SendMessage(peerprotocol.RequestMessage(b.Index, b.Begin, b.Length))
		}
	}
	for _, to := range t.sched.Tick(time.Now()) {
		pa, ok := t.peers[to.PeerKey]
		if !ok {
			continue
		}
		pa.peer.RequestTimeouts++
		if pa.peer.RequestTimeouts%3 == 0 {
			pa.peer.Distrust++
			if pa.peer.Distrust >= DistrustThreshold {
				pa.peer.Close()
			}
		}
	}
}

func (t *Torrent) runChoke() {
	views := make([]choker.PeerView, 0, len(t.peers))
	for _, pa := range t.peers {
		views = append(views, pa)
	}
	for key, unchoke := range t.chk.Decide(views) {
		pa, ok := t.peers[key]
		if !ok {
			continue
		}
		if unchoke && pa.peer.AmChoking {
			pa.peer.AmChoking = false
			pa.peer.SendMessage(peerprotocol.SimpleMessage(peerprotocol.Unchoke))
		} else if !unchoke && !pa.peer.AmChoking {
			pa.peer.AmChoking = true
			pa.peer.SendMessage(peerprotocol.SimpleMessage(peerprotocol.Choke))
		}
	}
}

func (t *Torrent) runOptimistic() {
	candidates := make([]choker.PeerView, 0, len(t.peers))
	for _, pa := range t.peers {
		candidates = append(candidates, pa)
	}
	unchoked, choked := t.chk.RotateOptimistic(candidates)
	for _, key := range choked {
		if pa, ok := t.peers[key]; ok {
			pa.peer.OptimisticUnchoked = false
		}
	}
	for _, key := range unchoked {
		pa, ok := t.peers[key]
		if !ok {
			continue
		}
		pa.peer.OptimisticUnchoked = true
		if pa.peer.AmChoking {
			pa.peer.AmChoking = false
			pa.peer.SendMessage(peerprotocol.SimpleMessage(peerprotocol.Unchoke))
		}
	}
}

func (t *Torrent) publishState() {
	s := State{
		InfoHash:   t.info.InfoHash,
		Name:       t.info.Name,
		Completed:  t.completed,
		Paused:     t.paused,
		Downloaded: t.downloaded,
		Uploaded:   t.uploaded,
		Left:       t.leftBytes(),
		NumPeers:   len(t.peers),
		Err:        t.lastErr,
	}
	select {
	case t.stateC <- s:
		return
	default:
	}
	select {
	case <-t.stateC:
	default:
	}
	select {
	case t.stateC <- s:
	default:
	}
}

// unused import guards for scheduler.PeerView / choker.PeerView satisfied
// by *peerAdapter at compile time via the calls above.
var _ scheduler.PeerView = (*peerAdapter)(nil)
