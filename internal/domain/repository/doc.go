// Package repository define las entidades persistidas del hub y las
// interfaces de acceso a datos que implementa cada adapter de store.
//
// Los repositorios devuelven ErrNotFound / ErrConflict para que las capas
// superiores puedan distinguir "no existe" de "duplicado" sin conocer el driver.
package repository
