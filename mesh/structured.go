package mesh

import "fmt"

// NewStructuredTri builds a multigrid of nx × ny unit quads, each split into
// two triangles along its (0,0)-(1,1) diagonal. Every further level halves
// the spacing; a fine triangle's parent is the coarse triangle containing
// its centroid.
func NewStructuredTri(nx, ny, levels int) (*MultiGrid, error) {
	if nx < 1 || ny < 1 || levels < 1 {
		return nil, fmt.Errorf("invalid grid dimensions nx=%d ny=%d levels=%d", nx, ny, levels)
	}
	mg := NewMultiGrid()
	var prev []int
	for lvl := 0; lvl < levels; lvl++ {
		nxl, nyl := nx<<lvl, ny<<lvl
		h := 1.0 / float64(int(1)<<lvl)
		vid := make([]int, (nxl+1)*(nyl+1))
		for j := 0; j <= nyl; j++ {
			for i := 0; i <= nxl; i++ {
				vid[j*(nxl+1)+i] = mg.AddVertex(lvl, [3]float64{float64(i) * h, float64(j) * h, 0})
			}
		}
		cur := make([]int, 2*nxl*nyl)
		for j := 0; j < nyl; j++ {
			for i := 0; i < nxl; i++ {
				v00 := vid[j*(nxl+1)+i]
				v10 := vid[j*(nxl+1)+i+1]
				v11 := vid[(j+1)*(nxl+1)+i+1]
				v01 := vid[(j+1)*(nxl+1)+i]
				tris := [2][]int{{v00, v10, v11}, {v00, v11, v01}}
				for t := 0; t < 2; t++ {
					parent := -1
					if lvl > 0 {
						parent = prev[coarseTri(i, j, t, nxl/2)]
					}
					idx, err := mg.AddCell(lvl, Tri, tris[t], parent)
					if err != nil {
						return nil, err
					}
					cur[(j*nxl+i)*2+t] = idx
				}
			}
		}
		prev = cur
	}
	return mg, nil
}

// coarseTri locates the coarse triangle containing fine triangle t of fine
// quad (i, j). nxc is the coarse row length.
func coarseTri(i, j, t, nxc int) int {
	fx, fy := 2.0/3.0, 1.0/3.0
	if t == 1 {
		fx, fy = fy, fx
	}
	cx := (float64(i%2) + fx) / 2
	cy := (float64(j%2) + fy) / 2
	ct := 0
	if cy > cx {
		ct = 1
	}
	return ((j/2)*nxc+i/2)*2 + ct
}

// NewStructuredHex builds a multigrid of nx × ny × nz unit hexahedra. Every
// further level splits each hex into eight children.
func NewStructuredHex(nx, ny, nz, levels int) (*MultiGrid, error) {
	if nx < 1 || ny < 1 || nz < 1 || levels < 1 {
		return nil, fmt.Errorf("invalid grid dimensions nx=%d ny=%d nz=%d levels=%d", nx, ny, nz, levels)
	}
	mg := NewMultiGrid()
	var prev []int
	for lvl := 0; lvl < levels; lvl++ {
		nxl, nyl, nzl := nx<<lvl, ny<<lvl, nz<<lvl
		h := 1.0 / float64(int(1)<<lvl)
		node := func(i, j, k int) int { return (k*(nyl+1)+j)*(nxl+1) + i }
		vid := make([]int, (nxl+1)*(nyl+1)*(nzl+1))
		for k := 0; k <= nzl; k++ {
			for j := 0; j <= nyl; j++ {
				for i := 0; i <= nxl; i++ {
					vid[node(i, j, k)] = mg.AddVertex(lvl,
						[3]float64{float64(i) * h, float64(j) * h, float64(k) * h})
				}
			}
		}
		cur := make([]int, nxl*nyl*nzl)
		for k := 0; k < nzl; k++ {
			for j := 0; j < nyl; j++ {
				for i := 0; i < nxl; i++ {
					verts := []int{
						vid[node(i, j, k)], vid[node(i+1, j, k)],
						vid[node(i+1, j+1, k)], vid[node(i, j+1, k)],
						vid[node(i, j, k+1)], vid[node(i+1, j, k+1)],
						vid[node(i+1, j+1, k+1)], vid[node(i, j+1, k+1)],
					}
					parent := -1
					if lvl > 0 {
						nxc, nyc := nxl/2, nyl/2
						parent = prev[((k/2)*nyc+j/2)*nxc+i/2]
					}
					idx, err := mg.AddCell(lvl, Hex, verts, parent)
					if err != nil {
						return nil, err
					}
					cur[(k*nyl+j)*nxl+i] = idx
				}
			}
		}
		prev = cur
	}
	return mg, nil
}
