package flight

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Segment is one streaming evaluation request: a contiguous run of
// timesteps plus the entering state. Feeding a Result's state back as the
// next Segment's state composes exactly like one long call.
type Segment struct {
	R, K, V, W, U, State *tensor.Tensor
}

// Result carries a segment's outputs and the final state.
type Result struct {
	Out, State *tensor.Tensor
}

// Wire layout: one record row per (batch, head) pair, batch-major, with
// each tensor flattened into a FixedSizeList<float32> column. All segments
// on one exchange stream share a schema, so the per-head sizes are fixed
// for the stream's lifetime; batch/head counts ride in schema metadata.
const (
	metaHeads    = "heads"
	metaSeqLen   = "seq_len"
	metaKeyDim   = "key_dim"
	metaValueDim = "value_dim"
)

func dimsMetadata(H, L, K, V int) arrow.Metadata {
	return arrow.NewMetadata(
		[]string{metaHeads, metaSeqLen, metaKeyDim, metaValueDim},
		[]string{strconv.Itoa(H), strconv.Itoa(L), strconv.Itoa(K), strconv.Itoa(V)},
	)
}

func requestSchema(H, L, K, V int) *arrow.Schema {
	md := dimsMetadata(H, L, K, V)
	return arrow.NewSchema([]arrow.Field{
		{Name: "r", Type: arrow.FixedSizeListOf(int32(L*K), arrow.PrimitiveTypes.Float32)},
		{Name: "k", Type: arrow.FixedSizeListOf(int32(L*K), arrow.PrimitiveTypes.Float32)},
		{Name: "v", Type: arrow.FixedSizeListOf(int32(L*V), arrow.PrimitiveTypes.Float32)},
		{Name: "w", Type: arrow.FixedSizeListOf(int32(L*K), arrow.PrimitiveTypes.Float32)},
		{Name: "u", Type: arrow.FixedSizeListOf(int32(K), arrow.PrimitiveTypes.Float32)},
		{Name: "state", Type: arrow.FixedSizeListOf(int32(K*V), arrow.PrimitiveTypes.Float32)},
	}, &md)
}

func resultSchema(H, L, K, V int) *arrow.Schema {
	md := dimsMetadata(H, L, K, V)
	return arrow.NewSchema([]arrow.Field{
		{Name: "out", Type: arrow.FixedSizeListOf(int32(L*V), arrow.PrimitiveTypes.Float32)},
		{Name: "state", Type: arrow.FixedSizeListOf(int32(K*V), arrow.PrimitiveTypes.Float32)},
	}, &md)
}

// segmentDims derives and cross-checks the segment's sizes. Deep shape
// validation stays with the kernel; this only checks what the wire format
// itself needs.
func segmentDims(seg *Segment) (B, H, L, K, V int, err error) {
	B, H, L, K = seg.R.Dims()
	_, _, _, V = seg.V.Dims()
	if !tensor.SameShape(seg.R, seg.K) {
		return 0, 0, 0, 0, 0, fmt.Errorf("segment: receptance and key shapes differ")
	}
	wB, wH, wL, wK := seg.W.Dims()
	if (wB != B && wB != 1) || wH != H || wL != L || wK != K {
		return 0, 0, 0, 0, 0, fmt.Errorf("segment: decay shape [%d,%d,%d,%d] incompatible with [%d,%d,%d,%d]", wB, wH, wL, wK, B, H, L, K)
	}
	return B, H, L, K, V, nil
}

// segmentToRecord packs a segment into one record batch, one row per
// (batch, head). The caller releases the record.
func segmentToRecord(seg *Segment, mem memory.Allocator) (arrow.Record, error) {
	B, H, L, K, V, err := segmentDims(seg)
	if err != nil {
		return nil, err
	}
	wB, _, _, _ := seg.W.Dims()

	schema := requestSchema(H, L, K, V)
	bld := array.NewRecordBuilder(mem, schema)
	defer bld.Release()

	appendRow := func(col int, vals []float32) {
		fb := bld.Field(col).(*array.FixedSizeListBuilder)
		fb.Append(true)
		fb.ValueBuilder().(*array.Float32Builder).AppendValues(vals, nil)
	}

	rd, kd, vd, wd, ud, sd := seg.R.Data(), seg.K.Data(), seg.V.Data(), seg.W.Data(), seg.U.Data(), seg.State.Data()
	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			rkOff := ((b*H + h) * L) * K
			vOff := ((b*H + h) * L) * V
			wb := b
			if wB == 1 {
				wb = 0
			}
			wOff := ((wb*H + h) * L) * K
			sOff := ((b*H + h) * K) * V

			appendRow(0, rd[rkOff:rkOff+L*K])
			appendRow(1, kd[rkOff:rkOff+L*K])
			appendRow(2, vd[vOff:vOff+L*V])
			appendRow(3, wd[wOff:wOff+L*K])
			appendRow(4, ud[h*K:(h+1)*K])
			appendRow(5, sd[sOff:sOff+K*V])
		}
	}

	return bld.NewRecord(), nil
}

// recordToSegment unpacks a request record batch into kernel tensors.
func recordToSegment(rec arrow.Record) (*Segment, error) {
	H, L, K, V, err := metadataDims(rec.Schema())
	if err != nil {
		return nil, err
	}
	rows := int(rec.NumRows())
	if rows == 0 || rows%H != 0 {
		return nil, fmt.Errorf("record rows %d not a multiple of heads %d", rows, H)
	}
	B := rows / H

	rFlat, err := columnValues(rec, 0, "r", L*K)
	if err != nil {
		return nil, err
	}
	kFlat, err := columnValues(rec, 1, "k", L*K)
	if err != nil {
		return nil, err
	}
	vFlat, err := columnValues(rec, 2, "v", L*V)
	if err != nil {
		return nil, err
	}
	wFlat, err := columnValues(rec, 3, "w", L*K)
	if err != nil {
		return nil, err
	}
	uFlat, err := columnValues(rec, 4, "u", K)
	if err != nil {
		return nil, err
	}
	sFlat, err := columnValues(rec, 5, "state", K*V)
	if err != nil {
		return nil, err
	}

	return &Segment{
		R:     tensor.FromSlice(rFlat, B, H, L, K),
		K:     tensor.FromSlice(kFlat, B, H, L, K),
		V:     tensor.FromSlice(vFlat, B, H, L, V),
		W:     tensor.FromSlice(wFlat, B, H, L, K),
		U:     tensor.FromSlice(uFlat[:H*K], 1, H, 1, K),
		State: tensor.FromSlice(sFlat, B, H, K, V),
	}, nil
}

// resultToRecord packs outputs and final state, mirroring the request layout.
func resultToRecord(res *Result, mem memory.Allocator) arrow.Record {
	B, H, L, V := res.Out.Dims()
	_, _, K, _ := res.State.Dims()

	bld := array.NewRecordBuilder(mem, resultSchema(H, L, K, V))
	defer bld.Release()

	od, sd := res.Out.Data(), res.State.Data()
	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			oOff := ((b*H + h) * L) * V
			sOff := ((b*H + h) * K) * V

			ob := bld.Field(0).(*array.FixedSizeListBuilder)
			ob.Append(true)
			ob.ValueBuilder().(*array.Float32Builder).AppendValues(od[oOff:oOff+L*V], nil)

			sb := bld.Field(1).(*array.FixedSizeListBuilder)
			sb.Append(true)
			sb.ValueBuilder().(*array.Float32Builder).AppendValues(sd[sOff:sOff+K*V], nil)
		}
	}

	return bld.NewRecord()
}

// recordToResult unpacks a response record batch.
func recordToResult(rec arrow.Record) (*Result, error) {
	H, L, K, V, err := metadataDims(rec.Schema())
	if err != nil {
		return nil, err
	}
	rows := int(rec.NumRows())
	if rows == 0 || rows%H != 0 {
		return nil, fmt.Errorf("record rows %d not a multiple of heads %d", rows, H)
	}
	B := rows / H

	oFlat, err := columnValues(rec, 0, "out", L*V)
	if err != nil {
		return nil, err
	}
	sFlat, err := columnValues(rec, 1, "state", K*V)
	if err != nil {
		return nil, err
	}

	return &Result{
		Out:   tensor.FromSlice(oFlat, B, H, L, V),
		State: tensor.FromSlice(sFlat, B, H, K, V),
	}, nil
}

func metadataDims(schema *arrow.Schema) (H, L, K, V int, err error) {
	md := schema.Metadata()
	get := func(key string) (int, error) {
		idx := md.FindKey(key)
		if idx < 0 {
			return 0, fmt.Errorf("schema metadata missing %q", key)
		}
		n, err := strconv.Atoi(md.Values()[idx])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("schema metadata %q = %q is not a positive integer", key, md.Values()[idx])
		}
		return n, nil
	}
	if H, err = get(metaHeads); err != nil {
		return
	}
	if L, err = get(metaSeqLen); err != nil {
		return
	}
	if K, err = get(metaKeyDim); err != nil {
		return
	}
	V, err = get(metaValueDim)
	return
}

// columnValues returns the flattened float32 contents of a
// FixedSizeList<float32> column, checking name and list size.
func columnValues(rec arrow.Record, col int, name string, size int) ([]float32, error) {
	if col >= int(rec.NumCols()) {
		return nil, fmt.Errorf("record missing column %d (%s)", col, name)
	}
	if got := rec.ColumnName(col); got != name {
		return nil, fmt.Errorf("column %d is %q, want %q", col, got, name)
	}
	fsl, ok := rec.Column(col).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want fixed_size_list<float32>", name, rec.Column(col).DataType())
	}
	listType, ok := fsl.DataType().(*arrow.FixedSizeListType)
	if !ok || int(listType.Len()) != size {
		return nil, fmt.Errorf("column %q has list size %v, want %d", name, fsl.DataType(), size)
	}
	child, ok := fsl.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %q values are %s, want float32", name, fsl.ListValues().DataType())
	}

	rows := fsl.Len()
	vals := child.Float32Values()
	start := fsl.Data().Offset() * size
	if start+rows*size > len(vals) {
		return nil, fmt.Errorf("column %q is truncated", name)
	}
	out := make([]float32, rows*size)
	copy(out, vals[start:start+rows*size])
	return out, nil
}
