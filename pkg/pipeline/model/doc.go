// Package model holds the types shared by the pipeline package and its hooks:
// stage descriptions, the typed stage handle and the Hook contract used by
// measure and drawer.
package model
