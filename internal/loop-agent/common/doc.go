// Package common holds helpers shared by the loop-agent stages.
package common
