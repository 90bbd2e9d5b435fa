package types

import "github.com/chewxy/math32"

// Mat4 is a row-major 4x4 matrix operating on column vectors. Affine
// transforms keep their translation in elements 3, 7 and 11.
type Mat4 [16]float32

// Mat3x4 is the top three rows of an affine Mat4. This is the layout
// expected by acceleration structure instance records.
type Mat3x4 [12]float32

// Create a 4x4 identity matrix.
func Ident4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Create a translation matrix.
func Translate3D(t Vec3) Mat4 {
	return Mat4{
		1, 0, 0, t[0],
		0, 1, 0, t[1],
		0, 0, 1, t[2],
		0, 0, 0, 1,
	}
}

// Create a uniform scale matrix.
func Scale3D(s float32) Mat4 {
	return Mat4{
		s, 0, 0, 0,
		0, s, 0, 0,
		0, 0, s, 0,
		0, 0, 0, 1,
	}
}

// Get element at row r and column c.
func (m Mat4) At(r, c int) float32 {
	return m[r*4+c]
}

// Multiply two matrices.
func (m Mat4) Mul4(m2 Mat4) Mat4 {
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m[r*4]*m2[c] + m[r*4+1]*m2[4+c] + m[r*4+2]*m2[8+c] + m[r*4+3]*m2[12+c]
		}
	}
	return out
}

// Multiply matrix with a column vector.
func (m Mat4) Mul4x1(v Vec4) Vec4 {
	return Vec4{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2] + m[3]*v[3],
		m[4]*v[0] + m[5]*v[1] + m[6]*v[2] + m[7]*v[3],
		m[8]*v[0] + m[9]*v[1] + m[10]*v[2] + m[11]*v[3],
		m[12]*v[0] + m[13]*v[1] + m[14]*v[2] + m[15]*v[3],
	}
}

// Get the transposed matrix.
func (m Mat4) Transpose() Mat4 {
	return Mat4{
		m[0], m[4], m[8], m[12],
		m[1], m[5], m[9], m[13],
		m[2], m[6], m[10], m[14],
		m[3], m[7], m[11], m[15],
	}
}

// Calculate the matrix determinant.
func (m Mat4) Det() float32 {
	return m[0]*m.cofactor(0, 0) + m[1]*m.cofactor(0, 1) + m[2]*m.cofactor(0, 2) + m[3]*m.cofactor(0, 3)
}

// Calculate the matrix inverse. Singular matrices invert to the zero matrix.
func (m Mat4) Inv() Mat4 {
	det := m.Det()
	if math32.Abs(det) < 1e-12 {
		return Mat4{}
	}

	var out Mat4
	invDet := 1.0 / det
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			// adjugate is the transposed cofactor matrix
			out[c*4+r] = m.cofactor(r, c) * invDet
		}
	}
	return out
}

func (m Mat4) cofactor(row, col int) float32 {
	var minor [9]float32
	idx := 0
	for r := 0; r < 4; r++ {
		if r == row {
			continue
		}
		for c := 0; c < 4; c++ {
			if c == col {
				continue
			}
			minor[idx] = m[r*4+c]
			idx++
		}
	}
	det := minor[0]*(minor[4]*minor[8]-minor[5]*minor[7]) -
		minor[1]*(minor[3]*minor[8]-minor[5]*minor[6]) +
		minor[2]*(minor[3]*minor[7]-minor[4]*minor[6])
	if (row+col)%2 == 1 {
		return -det
	}
	return det
}

// Truncate an affine matrix to its top three rows.
func (m Mat4) Mat3x4() Mat3x4 {
	var out Mat3x4
	copy(out[:], m[:12])
	return out
}

// Expand to a full affine 4x4 matrix.
func (m Mat3x4) Mat4() Mat4 {
	var out Mat4
	copy(out[:12], m[:])
	out[15] = 1
	return out
}

// Transform a point (w = 1).
func (m Mat3x4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}

// Transform a direction (w = 0).
func (m Mat3x4) TransformDir(d Vec3) Vec3 {
	return Vec3{
		m[0]*d[0] + m[1]*d[1] + m[2]*d[2],
		m[4]*d[0] + m[5]*d[1] + m[6]*d[2],
		m[8]*d[0] + m[9]*d[1] + m[10]*d[2],
	}
}

// Invert an affine transform.
func (m Mat3x4) Inv() Mat3x4 {
	return m.Mat4().Inv().Mat3x4()
}

// Create a right-handed perspective projection matrix (clip z in [-1, 1]).
func Perspective4(fovY, aspect, near, far float32) Mat4 {
	f := 1.0 / math32.Tan(fovY/2.0)
	nmf := near - far
	return Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (near + far) / nmf, (2 * far * near) / nmf,
		0, 0, -1, 0,
	}
}

// Create a right-handed view matrix for an eye looking at center.
func LookAtV(eye, center, up Vec3) Mat4 {
	f := center.Sub(eye).Normalize()
	s := f.Cross(up.Normalize()).Normalize()
	u := s.Cross(f)
	return Mat4{
		s[0], s[1], s[2], -s.Dot(eye),
		u[0], u[1], u[2], -u.Dot(eye),
		-f[0], -f[1], -f[2], f.Dot(eye),
		0, 0, 0, 1,
	}
}
