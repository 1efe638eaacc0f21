// Package onsager contains the exact solution of the two dimensional Ising model on the square lattice
//
//	H = -J Σ<ij> Si Sj,  Si ∈ {+1, -1}
//
// which is the limit of infinite anisotropy of the Blume-Capel model.
//
// References:
//   - Crystal Statistics. I. A Two-Dimensional Model with an Order-Disorder Transition, L. Onsager, Phys. Rev. 65, 117 (1944)
//   - The Spontaneous Magnetization of a Two-Dimensional Ising Model, C. N. Yang, Phys. Rev. 85, 808 (1952)
package onsager

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// quadraturePoints is the number of Gauss-Legendre points for the integrals over the Brillouin zone.
const quadraturePoints = 2048

// CriticalTemperature returns the temperature of the order-disorder transition.
func CriticalTemperature(j float64) float64 {
	return 2 * j / math.Log(1+math.Sqrt2)
}

// Magnetization returns the spontaneous magnetization per spin at temperature t.
func Magnetization(t, j float64) float64 {
	if t >= CriticalTemperature(j) {
		return 0
	}
	return math.Pow(1-math.Pow(math.Sinh(2*j/t), -4), 1./8)
}

// FreeEnergy returns the free energy per spin at temperature t.
func FreeEnergy(t, j float64) float64 {
	k := 2 * j / t
	kappa := modulus(k)
	integrand := func(phi float64) float64 {
		s := kappa * math.Sin(phi)
		return math.Log((1 + math.Sqrt(max(0, 1-s*s))) / 2)
	}
	integral := quad.Fixed(integrand, 0, math.Pi, quadraturePoints, quad.Legendre{}, 0)
	return -t * (math.Log(2*math.Cosh(k)) + integral/(2*math.Pi))
}

// InternalEnergy returns the energy per spin at temperature t.
func InternalEnergy(t, j float64) float64 {
	k := 2 * j / t
	coth := 1 / math.Tanh(k)
	c := 2*math.Pow(math.Tanh(k), 2) - 1
	kappa := modulus(k)
	// The elliptic integral diverges at the critical point, where its coefficient vanishes.
	if kappa >= 1 {
		return -j * coth
	}
	integrand := func(phi float64) float64 {
		s := kappa * math.Sin(phi)
		return 1 / math.Sqrt(1-s*s)
	}
	ellipticK := quad.Fixed(integrand, 0, math.Pi/2, quadraturePoints, quad.Legendre{}, 0)
	return -j * coth * (1 + 2/math.Pi*c*ellipticK)
}

// modulus returns 2 sinh(2K) / cosh²(2K), where 2K is k.
func modulus(k float64) float64 {
	return 2 * math.Sinh(k) / math.Pow(math.Cosh(k), 2)
}
